// Package auth issues and validates the bearer session tokens presented to
// the remote authority when the channel connects.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing session token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// SessionClaims scope a token to one user editing one graph.
type SessionClaims struct {
	UserID  string `json:"sub"`
	GraphID string `json:"graph_id"`
	jwt.RegisteredClaims
}

// TokenConfig holds session token configuration.
type TokenConfig struct {
	SecretKey string        // HS256 signing secret
	Issuer    string        // token issuer
	TTL       time.Duration // token lifetime
}

// TokenIssuer mints HS256 session tokens.
type TokenIssuer struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

// NewTokenIssuer creates an issuer.
func NewTokenIssuer(config TokenConfig) (*TokenIssuer, error) {
	if config.SecretKey == "" {
		return nil, errors.New("secret key required")
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{
		secretKey: []byte(config.SecretKey),
		issuer:    config.Issuer,
		ttl:       ttl,
	}, nil
}

// Issue mints a token scoping userID to graphID.
func (i *TokenIssuer) Issue(userID, graphID string) (string, error) {
	if userID == "" || graphID == "" {
		return "", fmt.Errorf("%w: user and graph ids required", ErrInvalidClaims)
	}

	now := time.Now()
	claims := SessionClaims{
		UserID:  userID,
		GraphID: graphID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secretKey)
}

// TokenValidator checks session tokens.
type TokenValidator struct {
	secretKey []byte
	issuer    string
}

// NewTokenValidator creates a validator.
func NewTokenValidator(config TokenConfig) (*TokenValidator, error) {
	if config.SecretKey == "" {
		return nil, errors.New("secret key required")
	}
	return &TokenValidator{
		secretKey: []byte(config.SecretKey),
		issuer:    config.Issuer,
	}, nil
}

// Validate parses and verifies a token, returning its claims.
func (v *TokenValidator) Validate(tokenString string) (*SessionClaims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method)
		}
		return v.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
	}
	if claims.UserID == "" || claims.GraphID == "" {
		return nil, fmt.Errorf("%w: missing session scope", ErrInvalidClaims)
	}
	return claims, nil
}
