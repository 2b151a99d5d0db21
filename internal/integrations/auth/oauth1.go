package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OAuth1 signs requests with OAuth 1.0a token based auth (HMAC-SHA256), as NetSuite expects.
type OAuth1 struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	Realm          string

	Now   func() time.Time
	Nonce func() string
}

func (o OAuth1) Apply(req *http.Request) error {
	now := time.Now
	if o.Now != nil { now = o.Now }
	nonce := func() string { return strings.ReplaceAll(uuid.New().String(), "-", "") }
	if o.Nonce != nil { nonce = o.Nonce }

	ts := strconv.FormatInt(now().Unix(), 10)
	params := [][2]string{
		{"oauth_consumer_key", o.ConsumerKey},
		{"oauth_token", o.Token},
		{"oauth_signature_method", "HMAC-SHA256"},
		{"oauth_timestamp", ts},
		{"oauth_nonce", nonce()},
		{"oauth_version", "1.0"},
	}
	sig := o.Signature(req.Method, req.URL, params)

	var b strings.Builder
	b.WriteString("OAuth ")
	for _, p := range params {
		fmt.Fprintf(&b, `%s="%s", `, p[0], PercentEncode(p[1]))
	}
	fmt.Fprintf(&b, `oauth_signature="%s", realm="%s"`, PercentEncode(sig), o.Realm)
	req.Header.Set("Authorization", b.String())
	return nil
}

// Signature computes the base64 HMAC-SHA256 over the OAuth signature base string.
// Query parameters of u are signed alongside the oauth_* parameters.
func (o OAuth1) Signature(method string, u *url.URL, oauthParams [][2]string) string {
	pairs := make([][2]string, 0, len(oauthParams)+4)
	for _, p := range oauthParams {
		pairs = append(pairs, [2]string{PercentEncode(p[0]), PercentEncode(p[1])})
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, [2]string{PercentEncode(k), PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] == pairs[j][0] { return pairs[i][1] < pairs[j][1] }
		return pairs[i][0] < pairs[j][0]
	})
	enc := make([]string, len(pairs))
	for i, p := range pairs { enc[i] = p[0] + "=" + p[1] }

	base := strings.ToUpper(method) + "&" + PercentEncode(baseURL(u)) + "&" + PercentEncode(strings.Join(enc, "&"))
	key := PercentEncode(o.ConsumerSecret) + "&" + PercentEncode(o.TokenSecret)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "https" && strings.HasSuffix(host, ":443")) || (scheme == "http" && strings.HasSuffix(host, ":80")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := u.EscapedPath()
	if path == "" { path = "/" }
	return scheme + "://" + host + path
}

// PercentEncode is RFC 3986 encoding: everything but unreserved characters is escaped.
func PercentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
