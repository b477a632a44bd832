package awxtest

import (
	"net/http"
	"strings"
)

// authMiddleware rejects requests that do not carry the expected bearer token
type authMiddleware struct {
	token    string
	onReject func()
}

func newAuthMiddleware(token string, onReject func()) *authMiddleware {
	return &authMiddleware{
		token:    token,
		onReject: onReject,
	}
}

// validateToken returns true if the Authorization header carries the token
func (am *authMiddleware) validateToken(header string) bool {
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")) == am.token
}

// Middleware returns an HTTP handler that validates the bearer token
func (am *authMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !am.validateToken(r.Header.Get("Authorization")) {
			if am.onReject != nil {
				am.onReject()
			}
			writeJSON(w, http.StatusUnauthorized, `{"detail": "Authentication credentials were not provided."}`)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limitBodySize caps request bodies the way the AWX API front end does
func limitBodySize(maxSize int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		next.ServeHTTP(w, r)
	})
}
