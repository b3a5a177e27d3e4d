package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderTimestamp carries the unix seconds the callback was signed at.
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	// HeaderSignature carries "v0=<hex hmac>".
	HeaderSignature = "X-Slack-Signature"

	signatureVersion = "v0"
	defaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("approval: missing signature headers")
	ErrStaleTimestamp   = errors.New("approval: timestamp outside tolerance window")
	ErrBadSignature     = errors.New("approval: signature mismatch")
)

// Verifier authenticates interactive callbacks.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
}

// NewVerifier returns a Verifier for secret. A non-positive tolerance falls
// back to five minutes.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance}
}

// Verify checks the timestamp window before the signature, so a replayed
// request is rejected even when its signature is valid.
func (v *Verifier) Verify(header http.Header, body []byte, now time.Time) error {
	if v == nil || len(v.secret) == 0 {
		return ErrBadSignature
	}
	rawTS := strings.TrimSpace(header.Get(HeaderTimestamp))
	provided := strings.TrimSpace(header.Get(HeaderSignature))
	if rawTS == "" || provided == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return ErrStaleTimestamp
	}

	expected := Sign(v.secret, rawTS, body)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the "v0=<hex>" signature for a timestamp and body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
