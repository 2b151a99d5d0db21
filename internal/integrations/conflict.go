package integrations

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

const DefaultTimestampField = "updated_at"

// Resolution describes which copy of a record won and why.
type Resolution struct {
	Winner   Side      `json:"winner"`
	LocalAt  time.Time `json:"localAt"`
	RemoteAt time.Time `json:"remoteAt"`
	Reason   string    `json:"reason"`
}

// Resolver picks the newer record by a timestamp field (last write wins).
// A missing or unparseable timestamp counts as the epoch. Equal timestamps go to the remote copy.
type Resolver struct {
	Field string
}

func (r Resolver) field() string {
	if r.Field == "" { return DefaultTimestampField }
	return r.Field
}

func (r Resolver) Resolve(local, remote map[string]any) Resolution {
	f := r.field()
	lt, lok := ParseTimestamp(local[f])
	rt, rok := ParseTimestamp(remote[f])
	res := Resolution{LocalAt: lt, RemoteAt: rt}
	switch {
	case rt.After(lt):
		res.Winner, res.Reason = SideRemote, "remote "+f+" is newer"
	case lt.After(rt):
		res.Winner, res.Reason = SideLocal, "local "+f+" is newer"
	default:
		res.Winner, res.Reason = SideRemote, "equal "+f+", remote wins tie"
	}
	if !lok { res.Reason += "; local " + f + " missing" }
	if !rok { res.Reason += "; remote " + f + " missing" }
	return res
}

var (
	epoch       = time.Unix(0, 0).UTC()
	sapDateRe   = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)
	timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

// ParseTimestamp accepts time.Time, RFC3339, "YYYY-MM-DD HH:MM:SS", "YYYY-MM-DD",
// unix seconds or milliseconds and SAP "/Date(ms)/" values. Failure yields the epoch and false.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return epoch, false
	case time.Time:
		if x.IsZero() { return epoch, false }
		return x.UTC(), true
	case *time.Time:
		if x == nil || x.IsZero() { return epoch, false }
		return x.UTC(), true
	case float64:
		return fromUnix(int64(x)), true
	case int64:
		return fromUnix(x), true
	case int:
		return fromUnix(int64(x)), true
	case json.Number:
		n, err := x.Int64()
		if err != nil { return epoch, false }
		return fromUnix(n), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" { return epoch, false }
		if m := sapDateRe.FindStringSubmatch(s); m != nil {
			ms, _ := strconv.ParseInt(m[1], 10, 64)
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromUnix(n), true
		}
	}
	return epoch, false
}

// values above 1e11 are taken as milliseconds
func fromUnix(n int64) time.Time {
	if n > 1e11 || n < -1e11 { return time.UnixMilli(n).UTC() }
	return time.Unix(n, 0).UTC()
}

func (r Resolution) String() string {
	return fmt.Sprintf("%s wins (%s): local=%s remote=%s", r.Winner, r.Reason, r.LocalAt.Format(time.RFC3339), r.RemoteAt.Format(time.RFC3339))
}
