package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fotofacil-backend/common/auth"
	apperrors "github.com/yashrajoria/fotofacil-backend/common/errors"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"
	AdminRole      = "admin"
)

// AuthMiddleware reads the identity headers injected by the API gateway. When
// they are absent and parser is configured, a bearer access token is accepted
// instead.
func AuthMiddleware(parser *auth.TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		role := c.GetHeader("X-User-Role")

		if userID == "" && parser != nil {
			if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				id, err := parser.Identify(strings.TrimSpace(bearer))
				if err != nil {
					apperrors.Abort(c, apperrors.ErrUnauthorized.Wrap(err))
					return
				}
				userID, role = id.UserID, id.Role
			}
		}

		if userID == "" {
			apperrors.Abort(c, apperrors.ErrUnauthorized)
			return
		}
		c.Set(UserContextKey, userID)
		c.Set(RoleContextKey, role)
		c.Next()
	}
}

// AdminOnly restricts access to the admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(RoleContextKey)
		if role != AdminRole {
			apperrors.Abort(c, apperrors.New(apperrors.ErrForbidden.Status, "forbidden", "Admin role required", nil))
			return
		}
		c.Next()
	}
}

// GetUserID extracts the user id set by AuthMiddleware.
func GetUserID(c *gin.Context) (string, error) {
	if val, ok := c.Get(UserContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id, nil
		}
	}
	return "", errors.New("user ID not found in context")
}
