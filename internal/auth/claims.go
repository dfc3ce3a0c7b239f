package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSocketToken   = errors.New("socket token: token required")
	ErrInvalidSocketToken   = errors.New("socket token: invalid token")
	ErrExpiredSocketToken   = errors.New("socket token: token expired")
	ErrMissingSocketSubject = errors.New("socket token: subject required")
)

// SocketClaims is the payload of the short-lived token that authenticates a
// push channel connection.
type SocketClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ExpiresWithin reports whether the token expires before now+window. A token
// without an expiry never expires.
func (c SocketClaims) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Add(window).Before(c.ExpiresAt.Time)
}

// InspectToken decodes the claims of a socket token without verifying its
// signature. Clients use it to learn the expiry of a token they were handed.
func InspectToken(tokenString string) (SocketClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SocketClaims{}, ErrMissingSocketToken
	}
	claims := SocketClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return SocketClaims{}, fmt.Errorf("%w: %v", ErrInvalidSocketToken, err)
	}
	if claims.UserID == 0 {
		return SocketClaims{}, ErrMissingSocketSubject
	}
	return claims, nil
}
