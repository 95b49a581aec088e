package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator resolves an already-issued credential into a user identity.
// The engine trusts the resolved identity and never re-validates it.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AllowAll accepts every request as anonymous. Default for local development.
type AllowAll struct{}

// Authenticate implements Authenticator.
func (AllowAll) Authenticate(*http.Request) (string, error) { return "anonymous", nil }

// StaticTokens maps bearer tokens to user identities.
type StaticTokens map[string]string

var errUnauthorized = errors.New("invalid or missing bearer token")

// Authenticate implements Authenticator.
func (t StaticTokens) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errUnauthorized
	}
	user, ok := t[token]
	if !ok {
		return "", errUnauthorized
	}
	return user, nil
}

type contextKey struct{}

var userKey contextKey

// UserFromContext returns the authenticated identity stored by the middleware.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}
