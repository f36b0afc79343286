package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Request signing headers.
const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
)

// MaxSignatureAge bounds how old a signed request may be.
const MaxSignatureAge = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrStaleSignature   = errors.New("request timestamp outside allowed window")
	ErrInvalidSignature = errors.New("request signature mismatch")
)

// Sign computes the v0 signature for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the Slack signing headers against body.
func VerifySignature(secret string, h http.Header, body []byte, now time.Time) error {
	sig := h.Get(HeaderSignature)
	ts := h.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return ErrMissingSignature
	}

	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleSignature
	}
	age := now.Sub(time.Unix(secs, 0))
	if age > MaxSignatureAge || age < -MaxSignatureAge {
		return ErrStaleSignature
	}

	if !hmac.Equal([]byte(sig), []byte(Sign(secret, ts, body))) {
		return ErrInvalidSignature
	}
	return nil
}
