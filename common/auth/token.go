package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrNotConfigured = errors.New("JWT secret not configured")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Identity is the caller described by a validated access token.
type Identity struct {
	UserID string
	Role   string
	Email  string
}

// TokenParser validates HS256 access tokens issued by the studio's auth
// service.
type TokenParser struct {
	secret []byte
}

// NewTokenParser returns nil when secret is empty, which disables bearer
// authentication.
func NewTokenParser(secret string) *TokenParser {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &TokenParser{secret: []byte(secret)}
}

// ParseAndValidateToken parses tokenStr and returns its claims. When
// expectedType is set the "typ" claim must match it.
func (p *TokenParser) ParseAndValidateToken(tokenStr, expectedType string) (jwt.MapClaims, error) {
	if p == nil {
		return nil, ErrNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if expectedType != "" {
		if typ, ok := claims["typ"].(string); !ok || typ != expectedType {
			return nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
		}
	}
	return claims, nil
}

// Identify validates an access token and extracts the caller.
func (p *TokenParser) Identify(tokenStr string) (*Identity, error) {
	claims, err := p.ParseAndValidateToken(tokenStr, "")
	if err != nil {
		return nil, err
	}
	id := &Identity{}
	id.UserID, _ = claims["user_id"].(string)
	if id.UserID == "" {
		id.UserID, _ = claims["sub"].(string)
	}
	id.Role, _ = claims["role"].(string)
	id.Email, _ = claims["email"].(string)
	if id.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return id, nil
}
