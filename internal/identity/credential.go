package identity

import (
	"net/http"
	"strings"
)

// TokenQueryParam carries the credential in the websocket handshake, since
// browsers cannot set headers on a websocket upgrade.
const TokenQueryParam = "token"

// CredentialFromRequest reads the handshake credential: the token query
// parameter first, then an Authorization bearer header.
func CredentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
