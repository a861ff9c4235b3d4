package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"campus_vote/pkg/config"
)

const tokenIssuer = "campus_vote"

// TokenIssuer issues and validates short-lived booth session tokens.
// Tokens bind a voting session to its anonymized voter hash without
// retaining the raw credential.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer creates a token issuer from the security configuration
func NewTokenIssuer(cfg *config.SecurityConfig) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.TokenSecret),
		expiry: cfg.TokenExpiry,
	}
}

// Issue creates a signed token for a voting session
func (t *TokenIssuer) Issue(sessionID, voterHash string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": tokenIssuer,
		"sub": sessionID,
		"vh":  voterHash,
		"iat": now.Unix(),
		"exp": now.Add(t.expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}

	return signed, nil
}

// Validate parses a session token and returns the bound session id and
// voter hash
func (t *TokenIssuer) Validate(tokenString string) (sessionID, voterHash string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("parsing session token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid session token")
	}

	sessionID, _ = claims["sub"].(string)
	voterHash, _ = claims["vh"].(string)
	if sessionID == "" || voterHash == "" {
		return "", "", fmt.Errorf("session token missing claims")
	}

	return sessionID, voterHash, nil
}
