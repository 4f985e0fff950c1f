package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenExpiresAt returns the exp claim of a JWT, if present.
//
// The signature is not verified; the backend remains authoritative. This is
// only used to skip restoring a session that is certain to be rejected.
func tokenExpiresAt(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// isTokenExpired reports whether token carries an exp claim in the past.
// Tokens without a parseable exp are treated as unexpired.
func isTokenExpired(token string, now time.Time) bool {
	exp, ok := tokenExpiresAt(token)
	if !ok {
		return false
	}
	return !now.Before(exp)
}

// Nonce is a one-time value for a platform sign-in challenge.
type Nonce struct {
	// Raw is kept by the client.
	Raw string
	// Hashed is the hex SHA-256 of Raw, handed to the platform's request.
	Hashed string
}

// NewNonce generates a nonce for federated sign-in.
func NewNonce() (Nonce, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Nonce{}, err
	}
	raw := id.String()
	sum := sha256.Sum256([]byte(raw))
	return Nonce{Raw: raw, Hashed: hex.EncodeToString(sum[:])}, nil
}
