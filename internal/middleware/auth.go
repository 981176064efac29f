package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/raakeshmj/activationplane/internal/auth"
)

type ContextKey string

const (
	TenantContextKey   ContextKey = "tenant"
	UsernameContextKey ContextKey = "username"
)

// SessionAuth guards the admin surface: it requires a Bearer session token and
// injects the tenant identity into the request context. The consumer verify
// endpoint never passes through here; it authenticates by request signature.
type SessionAuth struct {
	tokens *auth.TokenManager
}

func NewSessionAuth(tokens *auth.TokenManager) *SessionAuth {
	return &SessionAuth{tokens: tokens}
}

func (m *SessionAuth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "missing credentials")
			return
		}

		claims, err := m.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), TenantContextKey, claims.Subject)
		ctx = context.WithValue(ctx, UsernameContextKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantID extracts the authenticated tenant from the context.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(TenantContextKey).(string)
	return id, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
