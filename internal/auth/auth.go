// Package auth resolves bearer tokens to user identities and guards HTTP
// routes.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Authenticator resolves a bearer token to a user ID.
type Authenticator interface {
	Authenticate(token string) (userID string, ok bool)
}

// StaticTokens authenticates against a fixed token-to-user table from
// configuration.
type StaticTokens struct {
	tokens map[string]string
}

// NewStaticTokens builds an Authenticator from a token -> user ID map.
func NewStaticTokens(tokens map[string]string) *StaticTokens {
	copied := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		copied[token] = userID
	}
	return &StaticTokens{tokens: copied}
}

// Authenticate scans every entry with a constant-time compare so a miss
// costs the same as a hit.
func (s *StaticTokens) Authenticate(token string) (string, bool) {
	var matched string
	found := 0
	for candidate, userID := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			matched = userID
			found = 1
		}
	}
	return matched, found == 1
}

type contextKey struct{}

// WithUser returns a context carrying the authenticated user ID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFrom extracts the authenticated user ID placed by Middleware.
func UserFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved user ID in the request context. Fails closed: anything but a
// well-formed, known token is a 401.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				unauthorized(w)
				return
			}
			userID, ok := a.Authenticate(header[len(prefix):])
			if !ok {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": "invalid or missing bearer token",
			"type":    "authentication_error",
		},
	})
}
