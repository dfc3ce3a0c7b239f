package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingValidatorSecret   = errors.New("token validator: signing key required")
	ErrMissingValidatorIssuer   = errors.New("token validator: issuer required")
	ErrMissingValidatorAudience = errors.New("token validator: audience required")
)

// TokenValidatorConfig describes how to validate socket tokens.
type TokenValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	Clock         func() time.Time
}

// TokenValidator validates HS256 socket tokens presented on the push channel.
type TokenValidator struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// NewTokenValidator constructs a validator with the provided configuration.
func NewTokenValidator(cfg TokenValidatorConfig) (*TokenValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingValidatorSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingValidatorIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingValidatorAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied token string and returns its claims.
func (v *TokenValidator) ValidateToken(tokenString string) (SocketClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SocketClaims{}, ErrMissingSocketToken
	}

	claims := &SocketClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSocketToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SocketClaims{}, ErrExpiredSocketToken
		}
		return SocketClaims{}, fmt.Errorf("%w: %v", ErrInvalidSocketToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SocketClaims{}, ErrInvalidSocketToken
	}
	if claims.UserID == 0 || strings.TrimSpace(claims.Subject) == "" {
		return SocketClaims{}, ErrMissingSocketSubject
	}
	return *claims, nil
}
