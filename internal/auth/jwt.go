// Package auth gates RTSP connections behind an optional bearer token.
// The transport has no net/http request to hang claims off of, so the
// acceptor obtains a single "Authorization: Bearer <token>"-shaped
// header line through its AuthHeaderReader hook and verifies it here
// before handing the connection to the worker pool.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the RTSP client a token was issued to.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies feng access tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager builds a manager for the given HMAC secret and token
// lifetime.
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate creates a new signed token for userID.
func (manager *JWTManager) Generate(userID, username, role string) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "feng-rtsp-server",
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(manager.secretKey)
}

// Verify validates tokenString and returns its claims.
func (manager *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return manager.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ExtractBearerToken pulls the token out of a raw "Authorization:
// Bearer <token>" header line, as presented by an RTSP client that
// connects through the acceptor's bearer-token gate.
func ExtractBearerToken(headerLine string) (string, error) {
	const prefix = "Bearer "
	trimmed := strings.TrimSpace(headerLine)
	if !strings.HasPrefix(trimmed, prefix) {
		return "", errors.New("auth: missing bearer prefix")
	}
	token := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
	if token == "" {
		return "", errors.New("auth: empty bearer token")
	}
	return token, nil
}

// GenerateTestToken issues a token for local development and tests,
// without validating any user store.
func (manager *JWTManager) GenerateTestToken() (string, error) {
	return manager.Generate("test-client", "tester", "viewer")
}
