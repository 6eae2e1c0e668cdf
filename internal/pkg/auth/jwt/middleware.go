package jwt

import (
	"net/http"
	"strings"
)

// CredentialFromRequest extracts the bearer credential supplied at connection-open time.
// The Authorization header wins; browsers cannot set headers on a WebSocket handshake,
// so the "token" query parameter is accepted as a fallback.
func CredentialFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	return r.URL.Query().Get("token")
}
