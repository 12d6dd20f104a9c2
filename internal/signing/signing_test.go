package signing

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"), time.Minute)
	exp := time.Now().Add(time.Hour).Unix()
	sig := s.Sign("batch123:item1", exp)
	require.NotEmpty(t, sig)

	expires := strconv.FormatInt(exp, 10)
	require.True(t, s.Validate("batch123:item1", expires, sig))
	require.False(t, s.Validate("wrong", expires, sig))
	require.False(t, s.Validate("batch123:item1", "42", sig))
	require.False(t, s.Validate("batch123:item1", "not-a-number", sig))
}

func TestHeadersRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"), time.Minute)
	h := s.Headers("batch9:3")
	require.True(t, s.Validate("batch9:3", h[HeaderExpires], h[HeaderSignature]))
}

func TestValidateRejectsExpired(t *testing.T) {
	s := NewSigner([]byte("topsecret"), time.Minute)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	h := s.Headers("b")
	s.now = func() time.Time { return time.Unix(1700000000, 0).Add(2 * time.Minute) }
	require.False(t, s.Validate("b", h[HeaderExpires], h[HeaderSignature]))
}
