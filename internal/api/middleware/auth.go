package middleware

import (
	"net/http"

	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/crypto"
)

const APIKeyHeader = "X-API-Key"

// Auth returns a middleware that checks the X-API-Key header against the
// SHA-256 digest of the admin key.
func Auth(keyDigest string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			if keyDigest == "" || !crypto.MatchAPIKey(key, keyDigest) {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
