package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-sessions"

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})
	require.NoError(t, err)
	validator, err := NewTokenValidator(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})
	require.NoError(t, err)

	token, err := issuer.Issue("user-1", "graph-1")
	require.NoError(t, err)

	claims, err := validator.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "graph-1", claims.GraphID)
}

func TestValidateAcceptsBearerPrefix(t *testing.T) {
	issuer, _ := NewTokenIssuer(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})
	validator, _ := NewTokenValidator(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})

	token, err := issuer.Issue("user-1", "graph-1")
	require.NoError(t, err)

	claims, err := validator.Validate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "graph-1", claims.GraphID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewTokenIssuer(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})
	validator, _ := NewTokenValidator(TokenConfig{SecretKey: "a-different-secret", Issuer: "flowsync"})

	token, err := issuer.Issue("user-1", "graph-1")
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	validator, _ := NewTokenValidator(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})

	now := time.Now()
	claims := SessionClaims{
		UserID:  "user-1",
		GraphID: "graph-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "flowsync",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	issuer, _ := NewTokenIssuer(TokenConfig{SecretKey: testSecret, Issuer: "someone-else"})
	validator, _ := NewTokenValidator(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})

	token, err := issuer.Issue("user-1", "graph-1")
	require.NoError(t, err)

	_, err = validator.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestValidateRejectsEmptyToken(t *testing.T) {
	validator, _ := NewTokenValidator(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})

	_, err := validator.Validate("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestIssueRequiresSessionScope(t *testing.T) {
	issuer, _ := NewTokenIssuer(TokenConfig{SecretKey: testSecret, Issuer: "flowsync"})

	_, err := issuer.Issue("user-1", "")
	assert.ErrorIs(t, err, ErrInvalidClaims)
}
