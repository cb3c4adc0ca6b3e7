package metrics

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken rejects requests without the bearer token. Paths in open
// are served without a token. An empty token disables the check.
func requireToken(token string, open []string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range open {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || got == "" {
			http.Error(w, "invalid authorization format, expected 'Bearer <token>'", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
