package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignHMAC_Stable(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	a := SignHMAC("s3cret", 1700000000, body)
	assert.Equal(t, a, SignHMAC("s3cret", 1700000000, body))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, SignHMAC("s3cret", 1700000001, body))
	assert.NotEqual(t, a, SignHMAC("other", 1700000000, body))
	assert.Equal(t, "t=1700000000,v1="+a, SignatureHeader("s3cret", 1700000000, body))
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"a":1}`)
	now := time.Unix(1700000100, 0)
	h := SignatureHeader("k", 1700000000, body)

	assert.True(t, VerifyHMAC("k", h, body, 0, now))
	assert.True(t, VerifyHMAC("k", h, body, 5*time.Minute, now))
	assert.False(t, VerifyHMAC("k", h, body, time.Minute, now), "stale")
	assert.False(t, VerifyHMAC("k", h, []byte(`{"a":2}`), 0, now))
	assert.False(t, VerifyHMAC("wrong", h, body, 0, now))
	assert.False(t, VerifyHMAC("k", "v1=abc", body, 0, now))
	assert.False(t, VerifyHMAC("k", "t=1700000000,v1=zz", body, 0, now))
}
