package auth

import (
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an Authorization header value
// Only the exact "Bearer <token>" shape is accepted, everything else
// (other schemes, empty values, a bare prefix) yields false
func BearerToken(headerValue string) (string, bool) {
	token, found := strings.CutPrefix(headerValue, bearerPrefix)
	if !found || token == "" {
		return "", false
	}

	return token, true
}
