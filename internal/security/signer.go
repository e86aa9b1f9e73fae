package security

import (
	"strconv"
	"time"
)

// Signer binds the codec to the process-wide settings. The zero Now uses
// time.Now. A Signer is read-only after construction and safe to share.
type Signer struct {
	Secret    []byte
	BasePath  string
	TTL       time.Duration
	Algorithm Algorithm
	Now       func() time.Time
}

func NewSigner(secret []byte, basePath string, ttl time.Duration, alg Algorithm) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{
		Secret:    secret,
		BasePath:  NormalizeBasePath(basePath),
		TTL:       ttl,
		Algorithm: alg,
	}
}

func (s *Signer) Sign(resourceID string, ttl time.Duration) (SignedReference, error) {
	return Sign(resourceID, ttl, s.Secret, s.now(), s.options())
}

// SignDefault signs with the configured TTL.
func (s *Signer) SignDefault(resourceID string) (SignedReference, error) {
	return s.Sign(resourceID, s.TTL)
}

func (s *Signer) Verify(resourceID string, expiresAt int64, signature string) bool {
	return Verify(resourceID, expiresAt, signature, s.Secret, s.now(), s.options())
}

// VerifyPath checks a request path such as /media/pictures/1/a.jpg.
func (s *Signer) VerifyPath(uriPath string, expiresAt int64, signature string) bool {
	return VerifyPath(uriPath, expiresAt, signature, s.Secret, s.now(), s.Algorithm)
}

// ParseExpires reads the e= query value. Anything but a plain decimal is
// rejected.
func ParseExpires(raw string) (int64, bool) {
	if raw == "" || raw[0] == '+' || raw[0] == '-' {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *Signer) options() Options {
	return Options{BasePath: s.BasePath, Algorithm: s.Algorithm}
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
