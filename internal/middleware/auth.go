package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Vasu1712/scenyx-chat/internal/api"
)

// TokenParser resolves an access token to a username.
type TokenParser interface {
	ParseAccess(token string) (string, error)
}

type userKey struct{}

// User returns the authenticated username stored by Auth.
func User(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(userKey{}).(string)
	return name, ok && name != ""
}

// WithUser stores name as the authenticated user.
func WithUser(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, userKey{}, name)
}

// BearerToken extracts the token from an Authorization header, falling back
// to the token query parameter for browser websocket handshakes.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Auth rejects requests without a valid access token.
func Auth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				api.Error(w, http.StatusUnauthorized, "authentication credentials were not provided")
				return
			}
			name, err := tokens.ParseAccess(tok)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "given token not valid for any token type")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), name)))
		})
	}
}
