package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const apiPrefix = "/api/"

// authMiddleware returns middleware that validates Bearer token authentication
// on library routes under /api/. When AuthToken is empty, the middleware is a
// no-op (allows unauthenticated access). /health and /metrics stay open for
// probes and scrapers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}

	tokenBytes := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, apiPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauthorizedResponse(w)
			return
		}

		provided := []byte(strings.TrimPrefix(auth, "Bearer "))
		if subtle.ConstantTimeCompare(provided, tokenBytes) != 1 {
			unauthorizedResponse(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func unauthorizedResponse(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="mediadb"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
