package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestIdentify(t *testing.T) {
	p := NewTokenParser("s3cret")
	token := sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "admin-7",
		"email":   "studio@example.com",
		"role":    "admin",
		"exp":     time.Now().Add(time.Minute).Unix(),
	})

	id, err := p.Identify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-7", id.UserID)
	assert.Equal(t, "admin", id.Role)
	assert.Equal(t, "studio@example.com", id.Email)
}

func TestIdentify_Rejects(t *testing.T) {
	p := NewTokenParser("s3cret")

	expired := sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u", "exp": time.Now().Add(-time.Minute).Unix()})
	_, err := p.Identify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey := sign(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u"})
	_, err = p.Identify(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject := sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"})
	_, err = p.Identify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.ParseAndValidateToken(sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{"typ": "refresh"}), "access")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenParser_Disabled(t *testing.T) {
	p := NewTokenParser("  ")
	assert.Nil(t, p)
	_, err := p.ParseAndValidateToken("x", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
