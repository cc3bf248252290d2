package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var unverifiedParser = jwt.NewParser()

// TokenExpiry reads the exp claim of a JWT access token without verifying
// it. ok is false for opaque tokens.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	// An unknown signing algorithm does not matter here; the claims are
	// already decoded by then.
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.Unix() <= 0 {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
