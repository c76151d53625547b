package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminAuth guards the operator surface (dispute resolution, sweep
// triggers, archive access, the event feed). Clients present the
// configured key either as "Authorization: Bearer <key>" or in the
// X-API-Key header. An empty configured key disables the check, for
// development setups.
func AdminAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		want := []byte(apiKey)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" {
				got = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}

			switch {
			case got == "":
				deny(w, "missing authentication token")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				deny(w, "invalid authentication token")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// bearerToken extracts the credential from a Bearer Authorization
// header. Other schemes yield the empty string.
func bearerToken(r *http.Request) string {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
