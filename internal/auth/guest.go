package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const guestIssuer = "avatar-studio"

// ErrInvalidToken is returned for any guest token that fails verification.
var ErrInvalidToken = errors.New("invalid guest token")

// GuestClaims identify an anonymous session. The subject is the user id.
type GuestClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// UserID returns the session's user id
func (c *GuestClaims) UserID() string {
	return c.Subject
}

// IssueGuestToken signs an HS256 token for the session, valid for ttl from now.
func IssueGuestToken(secret []byte, userID, sessionID string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, fmt.Errorf("guest token secret is empty")
	}

	expires := now.Add(ttl)
	claims := GuestClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    guestIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign guest token: %w", err)
	}
	return signed, expires, nil
}

// ParseGuestToken verifies the signature, issuer and expiry of a guest token.
func ParseGuestToken(secret []byte, token string, now time.Time) (*GuestClaims, error) {
	claims := &GuestClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(guestIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session claims", ErrInvalidToken)
	}
	return claims, nil
}
