package transport

import "strings"

// IsWellFormedToken reports whether token looks like a compact JWT: exactly
// three non-empty, dot-separated segments.
//
// The signature is not verified; the backend is authoritative.
func IsWellFormedToken(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}

// BearerHeader returns the Authorization header value for token, or "" when
// the token must not be sent.
func BearerHeader(token string) string {
	if !IsWellFormedToken(token) {
		return ""
	}
	return "Bearer " + token
}
