// Package security implements the signed media URL scheme shared with the
// reverse proxy. The proxy recomputes the signature on its own, so the message
// layout and encoding below are a wire contract:
//
//	st = base64url(md5(uri_path + expires_at + secret)), no padding
//	url = uri_path + "?st=" + st + "&e=" + expires_at
//
// This matches nginx `secure_link_md5 "$uri$secure_link_expires<secret>"`.
package security

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

type Algorithm string

const (
	AlgorithmMD5        Algorithm = "md5"
	AlgorithmHMACSHA256 Algorithm = "sha256"
)

const (
	DefaultBasePath = "/media"
	DefaultTTL      = time.Hour

	ParamSignature = "st"
	ParamExpires   = "e"

	// MaxTTLSeconds is the largest lifetime a time.Duration can hold.
	MaxTTLSeconds = math.MaxInt64 / int64(time.Second)
)

var (
	ErrEmptyResourceID  = errors.New("resource id is required")
	ErrInvalidTTL       = errors.New("ttl must be at least one second")
	ErrMissingSecret    = errors.New("signing secret is not configured")
	ErrUnknownAlgorithm = errors.New("unknown signing algorithm")
)

// SignedReference is what callers hand to browsers. It is rebuilt for every
// response and never stored.
type SignedReference struct {
	ResourceID string `json:"resource_id"`
	URL        string `json:"url"`
	Signature  string `json:"signature"`
	ExpiresAt  int64  `json:"expires_at"`
	ExpiresIn  int64  `json:"expires_in"`
}

// Options controls the parts of the URL that are not per-call inputs.
type Options struct {
	BasePath  string
	Algorithm Algorithm
}

// ParseAlgorithm maps a config value to an Algorithm. Empty means md5.
func ParseAlgorithm(v string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(v))) {
	case "", AlgorithmMD5:
		return AlgorithmMD5, nil
	case AlgorithmHMACSHA256, "hmac-sha256":
		return AlgorithmHMACSHA256, nil
	}
	return "", ErrUnknownAlgorithm
}

// TTLFromSeconds converts a caller-supplied lifetime in seconds. Values
// outside [1, MaxTTLSeconds] yield ErrInvalidTTL instead of wrapping.
func TTLFromSeconds(n int64) (time.Duration, error) {
	if n < 1 || n > MaxTTLSeconds {
		return 0, ErrInvalidTTL
	}
	return time.Duration(n) * time.Second, nil
}

// Sign mints a signed reference for resourceID valid until now+ttl.
func Sign(resourceID string, ttl time.Duration, secret []byte, now time.Time, opts Options) (SignedReference, error) {
	if resourceID == "" {
		return SignedReference{}, ErrEmptyResourceID
	}
	if ttl < time.Second {
		return SignedReference{}, ErrInvalidTTL
	}
	if len(secret) == 0 {
		return SignedReference{}, ErrMissingSecret
	}

	ttlSeconds := int64(ttl / time.Second)
	expiresAt := now.Unix() + ttlSeconds
	uri := MediaPath(opts.BasePath, resourceID)

	sig, err := Signature(uri, expiresAt, secret, opts.Algorithm)
	if err != nil {
		return SignedReference{}, err
	}

	return SignedReference{
		ResourceID: resourceID,
		URL:        uri + "?" + ParamSignature + "=" + sig + "&" + ParamExpires + "=" + strconv.FormatInt(expiresAt, 10),
		Signature:  sig,
		ExpiresAt:  expiresAt,
		ExpiresIn:  ttlSeconds,
	}, nil
}

// Verify reports whether signature was minted for resourceID and expiresAt
// with secret, and that now has not passed expiresAt. The expiry second
// itself is still valid.
func Verify(resourceID string, expiresAt int64, signature string, secret []byte, now time.Time, opts Options) bool {
	if resourceID == "" {
		return false
	}
	return VerifyPath(MediaPath(opts.BasePath, resourceID), expiresAt, signature, secret, now, opts.Algorithm)
}

// VerifyPath is Verify for callers that already hold the escaped request
// path, the way the proxy sees it.
func VerifyPath(uriPath string, expiresAt int64, signature string, secret []byte, now time.Time, alg Algorithm) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	if now.Unix() > expiresAt {
		return false
	}
	expected, err := Signature(uriPath, expiresAt, secret, alg)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Signature computes the encoded digest over uriPath ++ expiresAt ++ secret.
func Signature(uriPath string, expiresAt int64, secret []byte, alg Algorithm) (string, error) {
	msg := make([]byte, 0, len(uriPath)+20+len(secret))
	msg = append(msg, uriPath...)
	msg = strconv.AppendInt(msg, expiresAt, 10)
	msg = append(msg, secret...)

	var sum []byte
	switch alg {
	case "", AlgorithmMD5:
		d := md5.Sum(msg)
		sum = d[:]
	case AlgorithmHMACSHA256:
		mac := hmac.New(sha256.New, secret)
		mac.Write(msg)
		sum = mac.Sum(nil)
	default:
		return "", ErrUnknownAlgorithm
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// MediaPath joins the base path and the escaped resource id.
func MediaPath(basePath, resourceID string) string {
	return NormalizeBasePath(basePath) + "/" + escapePath(resourceID)
}

// NormalizeBasePath returns basePath with a leading slash and without a
// trailing one. Empty becomes DefaultBasePath.
func NormalizeBasePath(basePath string) string {
	p := strings.TrimSpace(basePath)
	if p == "" {
		return DefaultBasePath
	}
	p = strings.TrimRight(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

const upperhex = "0123456789ABCDEF"

// escapePath percent-encodes everything except unreserved characters and '/'.
// url.PathEscape leaves sub-delims like ':' and '@' alone, which the stored
// links never did.
func escapePath(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}
