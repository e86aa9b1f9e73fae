package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"galleria/internal/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSigningEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GALLERY_SIGNED_URL_SECRET", "s3cr3t")
	t.Setenv("GALLERY_SIGNED_URL_TTL", "3600")
	t.Setenv("GALLERY_SIGNED_URL_ALGORITHM", "md5")
	t.Setenv("GALLERY_MEDIA_BASE_URL", "/media")
}

func TestSignPrintsURL(t *testing.T) {
	setSigningEnv(t)

	var out, errOut bytes.Buffer
	code := run([]string{"-id", "pictures/7/3f2a.jpg", "-now", "1700000000"}, &out, &errOut)

	require.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "/media/pictures/7/3f2a.jpg?st=fIhZtm05VaKJXy9LqVSvdQ&e=1700003600", strings.TrimSpace(out.String()))
}

func TestSignJSON(t *testing.T) {
	setSigningEnv(t)

	var out, errOut bytes.Buffer
	code := run([]string{"-id", "x", "-ttl", "60", "-now", "0", "-json"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	var ref security.SignedReference
	require.NoError(t, json.Unmarshal(out.Bytes(), &ref))
	assert.Equal(t, "x", ref.ResourceID)
	assert.Equal(t, "hCutpR5vDzCc5W8ub2xcJg", ref.Signature)
	assert.EqualValues(t, 60, ref.ExpiresAt)
}

func TestVerify(t *testing.T) {
	setSigningEnv(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{
			name: "valid",
			args: []string{"-verify", "-id", "pictures/7/3f2a.jpg", "-e", "1700003600", "-st", "fIhZtm05VaKJXy9LqVSvdQ", "-now", "1700000000"},
			want: 0,
		},
		{
			name: "expired",
			args: []string{"-verify", "-id", "pictures/7/3f2a.jpg", "-e", "1700003600", "-st", "fIhZtm05VaKJXy9LqVSvdQ", "-now", "1700003601"},
			want: 1,
		},
		{
			name: "tampered",
			args: []string{"-verify", "-id", "pictures/7/3f2b.jpg", "-e", "1700003600", "-st", "fIhZtm05VaKJXy9LqVSvdQ", "-now", "1700000000"},
			want: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			assert.Equal(t, tc.want, run(tc.args, &out, &errOut))
		})
	}
}

func TestUsageErrors(t *testing.T) {
	setSigningEnv(t)

	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "-id is required")

	errOut.Reset()
	assert.Equal(t, 2, run([]string{"-bogus"}, &out, &errOut))
}

func TestMissingSecret(t *testing.T) {
	setSigningEnv(t)
	t.Setenv("GALLERY_SIGNED_URL_SECRET", "")

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"-id", "x"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "secret")
}

func TestInvalidTTL(t *testing.T) {
	setSigningEnv(t)

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"-id", "x", "-ttl", "-5"}, &out, &errOut))

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"-id", "x", "-ttl", "18446744075", "-now", "1000"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "ttl")
	assert.Empty(t, out.String())
}
