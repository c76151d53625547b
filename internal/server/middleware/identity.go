package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader names the header carrying the authenticated marketplace user.
// The edge gateway validates the session and injects this header; the trade
// service itself is never exposed to the public internet, so the header is
// trusted as-is.
const UserIDHeader = "X-User-ID"

// contextKey is a private type so context values set here cannot collide
// with keys from other packages.
type contextKey string

const userIDKey contextKey = "user_id"

// Identity returns middleware that copies the gateway-provided user identity
// from the request header onto the request context. It never rejects a
// request itself; handlers that require an identity read it back with UserID
// and respond with 401 when it is absent.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID returns the authenticated user stored on the context by Identity,
// or the empty string when the request carried no identity.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
