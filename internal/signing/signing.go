// Package signing implements the HMAC helper used to sign requests sent to the
// upload endpoint and the catalog service.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by signed requests.
const (
	HeaderSignature = "X-GalleryDrop-Signature"
	HeaderExpires   = "X-GalleryDrop-Expires"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer whose signatures expire after ttl.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl, now: time.Now}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(subject string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	// The canonical payload keeps field order fixed so both sides agree.
	payload := fmt.Sprintf("%s:%d", subject, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the signature headers for subject, expiring ttl from now.
func (s *Signer) Headers(subject string) map[string]string {
	expires := s.now().Add(s.ttl).Unix()
	return map[string]string{
		HeaderSignature: s.Sign(subject, expires),
		HeaderExpires:   strconv.FormatInt(expires, 10),
	}
}

// Validate compares the provided signature with the expected one and rejects
// expired signatures.
func (s *Signer) Validate(subject, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if time.Unix(exp, 0).Before(s.now()) {
		return false
	}
	expected := s.Sign(subject, exp)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(signature))
}
