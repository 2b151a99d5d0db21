package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignHMAC returns lowercase hex of HMAC-SHA256 over "{ts}.{body}".
func SignHMAC(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the X-Webhook-Signature value.
func SignatureHeader(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, SignHMAC(secret, ts, body))
}

// VerifyHMAC checks a "t=..,v1=.." header against body. A tolerance of 0 skips the freshness check.
func VerifyHMAC(secret, header string, body []byte, tolerance time.Duration, now time.Time) bool {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok { continue }
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil { return false }
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" { return false }
	if tolerance > 0 {
		d := now.Sub(time.Unix(ts, 0))
		if d < 0 { d = -d }
		if d > tolerance { return false }
	}
	provided, err := hex.DecodeString(sig)
	if err != nil { return false }
	expected, _ := hex.DecodeString(SignHMAC(secret, ts, body))
	return hmac.Equal(expected, provided)
}
