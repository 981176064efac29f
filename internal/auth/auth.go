package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	// codeAlphabet is the mixed-case letter set for activation codes.
	// 52^6 is about 19.8 billion, practically collision free for 6 chars.
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	keyAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	CodeLength = 6

	pbkdf2Iterations = 100_000
	pbkdf2KeyLen     = 32
	saltLength       = 16
)

// HMAC Request Signing

// Sign computes HMAC-SHA256 over the UTF-8 bytes of message keyed by secret
// and returns the lowercase hex digest (64 chars). Client SDKs reproduce it
// byte for byte.
func Sign(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the digest and compares case-insensitively in
// constant time over the fixed-length hex representation.
func VerifySignature(candidate, message, secret string) bool {
	expected := Sign(message, secret)
	return hmac.Equal([]byte(strings.ToLower(candidate)), []byte(expected))
}

// VerificationString builds the canonical signing string for code verification:
// code + app_name + user_name + timestamp + nonce + secret, no separators.
// The field order is a wire-format contract with existing client SDKs.
func VerificationString(code, appName, userName, timestamp, nonce, secret string) string {
	return code + appName + userName + timestamp + nonce + secret
}

// Password Hashing (PBKDF2-SHA256)

// HashPassword derives a 256-bit PBKDF2-SHA256 key with 100k iterations and a
// random 16-char salt, stored as "salt:hashHex".
func HashPassword(password string) (string, error) {
	salt, err := randomString(saltLength, keyAlphabet)
	if err != nil {
		return "", err
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return salt + ":" + hex.EncodeToString(key), nil
}

// CheckPasswordHash re-derives with the stored salt and compares in constant time.
func CheckPasswordHash(password, stored string) bool {
	salt, expected, ok := strings.Cut(stored, ":")
	if !ok || salt == "" || expected == "" {
		return false
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	derived := hex.EncodeToString(key)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(expected)) == 1
}

// Credential & Code Generation (Secure Random)

// GenerateAPIKey returns a new consumer API key, "ak_" + 32 random chars.
func GenerateAPIKey() (string, error) {
	s, err := randomString(32, keyAlphabet)
	if err != nil {
		return "", err
	}
	return "ak_" + s, nil
}

// GenerateAPISecret returns a new signing secret, "as_" + 64 random chars.
func GenerateAPISecret() (string, error) {
	s, err := randomString(64, keyAlphabet)
	if err != nil {
		return "", err
	}
	return "as_" + s, nil
}

// GenerateActivationCode returns 6 chars drawn uniformly from the 52-letter
// mixed-case alphabet.
func GenerateActivationCode() (string, error) {
	return randomString(CodeLength, codeAlphabet)
}

// randomString samples uniformly from alphabet using crypto/rand. Rejection
// sampling keeps the distribution free of modulo bias.
func randomString(length int, alphabet string) (string, error) {
	limit := byte(256 - (256 % len(alphabet)))
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// Session Tokens (HS256)

// SessionClaims carries the admin identity inside a signed session token.
type SessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates compact signed session tokens keyed by a
// process-wide secret. No refresh protocol: expired tokens need a fresh login.
type TokenManager struct {
	secret   string
	lifetime time.Duration
}

func NewTokenManager(secret string, lifetime time.Duration) *TokenManager {
	return &TokenManager{secret: secret, lifetime: lifetime}
}

func (m *TokenManager) Generate(tenantID, username string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secret))
}

func (m *TokenManager) Verify(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
