// Package auth checks the shared secret presented by relay clients.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// TokenParam is the header and query parameter carrying the shared secret.
const TokenParam = "authToken"

// Checker compares presented tokens against the configured secret.
type Checker struct {
	digest [sha256.Size]byte
}

// NewChecker creates a checker for secret.
func NewChecker(secret string) *Checker {
	return &Checker{digest: sha256.Sum256([]byte(secret))}
}

// Valid reports whether presented matches the secret. Both sides are hashed
// first so the comparison time does not depend on the secret's length.
func (c *Checker) Valid(presented string) bool {
	if presented == "" {
		return false
	}
	d := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(d[:], c.digest[:]) == 1
}

// FromHeader returns the token from the authToken header.
func FromHeader(r *http.Request) string {
	return r.Header.Get(TokenParam)
}

// FromRequest returns the token from the authToken query parameter, falling
// back to the header. Browsers cannot set headers on a WebSocket handshake.
func FromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(TokenParam); token != "" {
		return token
	}
	return FromHeader(r)
}

// Middleware rejects requests without a valid authToken header with 401.
func (c *Checker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Valid(FromHeader(r)) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
