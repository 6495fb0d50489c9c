// ABOUTME: Session identity derived from the platform's JWT access token
// ABOUTME: Parses the subject claim client-side; the server remains the verifier

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity errors
var (
	ErrNoToken      = errors.New("no access token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity is the authenticated user's identity for the lifetime of a login.
// It exists only while a user is logged in; no realtime connection may be
// opened without one.
type Identity struct {
	UserID string
	Token  string
}

// FromToken derives an Identity from a JWT access token issued by the
// platform. The signature is NOT verified here -- the client has no signing
// secret and the server re-verifies the token on every request. Parsing only
// extracts the subject claim and rejects tokens that are already expired,
// since opening a connection with one would fail anyway.
func FromToken(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if exp.Before(time.Now()) {
			return nil, ErrExpiredToken
		}
	}

	return &Identity{UserID: sub, Token: tokenString}, nil
}

// Valid reports whether the identity carries a usable user ID.
func (id *Identity) Valid() bool {
	return id != nil && id.UserID != ""
}
