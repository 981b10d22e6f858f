package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarship-api/internal/models"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

// RequireRoles admits only callers whose token carries one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not perform this action", claims.Role)))
			c.Abort()
			return
		}
		c.Next()
	}
}
