package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignRoundTrip(t *testing.T) {
	messages := []string{"", "a", "Ab12Cdmyapp alice1700000000000n0nce", strings.Repeat("x", 4096)}
	secrets := []string{"s", "as_0123456789", "秘密"}

	for _, m := range messages {
		for _, s := range secrets {
			sig := Sign(m, s)
			assert.Len(t, sig, 64)
			assert.Equal(t, strings.ToLower(sig), sig, "digest must be lowercase hex")
			assert.True(t, VerifySignature(sig, m, s))
			assert.True(t, VerifySignature(strings.ToUpper(sig), m, s), "hex comparison is case-insensitive")
		}
	}
}

func TestSignDeterministic(t *testing.T) {
	a := Sign("message", "secret")
	b := Sign("message", "secret")
	assert.Equal(t, a, b)
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	m, s := "Ab12Cdappuser1700000000000nonce", "as_secret"
	sig := Sign(m, s)

	// Flipping any single character of message or secret breaks the signature.
	assert.False(t, VerifySignature(sig, m+"x", s))
	assert.False(t, VerifySignature(sig, "b"+m[1:], s))
	assert.False(t, VerifySignature(sig, m, s+"x"))

	// One altered hex digit breaks it too.
	altered := []byte(sig)
	if altered[0] == 'a' {
		altered[0] = 'b'
	} else {
		altered[0] = 'a'
	}
	assert.False(t, VerifySignature(string(altered), m, s))
}

func TestVerificationStringOrder(t *testing.T) {
	got := VerificationString("Ab12Cd", "app", "user", "1700000000000", "n1", "sec")
	assert.Equal(t, "Ab12Cdappuser1700000000000n1sec", got)
}

func TestHashPassword(t *testing.T) {
	stored, err := HashPassword("hunter22")
	require.NoError(t, err)

	salt, hash, ok := strings.Cut(stored, ":")
	require.True(t, ok)
	assert.Len(t, salt, 16)
	assert.Len(t, hash, 64)

	assert.True(t, CheckPasswordHash("hunter22", stored))
	assert.False(t, CheckPasswordHash("hunter23", stored))
	assert.False(t, CheckPasswordHash("hunter22", "garbage"))

	// Random salt: same password hashes differently each time.
	again, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, stored, again)
}

func TestGenerateActivationCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := GenerateActivationCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			assert.True(t, (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'), "code %q has non-letter %q", code, r)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 95, "codes should be effectively unique")
}

func TestGenerateCredentials(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "ak_"))
	assert.Len(t, key, 35)

	secret, err := GenerateAPISecret()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "as_"))
	assert.Len(t, secret, 67)
}

func TestTokenManager(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)

	token, err := m.Generate("tenant-1", "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.Subject)
	assert.Equal(t, "admin", claims.Username)
}

func TestTokenManagerRejects(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	token, err := m.Generate("tenant-1", "admin")
	require.NoError(t, err)

	// Malformed structure.
	_, err = m.Verify("not.a")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Signature mismatch (different secret).
	other := NewTokenManager("other-secret", time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Expired.
	stale := NewTokenManager("test-secret", -time.Minute)
	expired, err := stale.Generate("tenant-1", "admin")
	require.NoError(t, err)
	_, err = m.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
