package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scholarship-api/internal/middleware"
	"github.com/noah-isme/scholarship-api/internal/models"
	"github.com/noah-isme/scholarship-api/internal/service"
	appErrors "github.com/noah-isme/scholarship-api/pkg/errors"
	"github.com/noah-isme/scholarship-api/pkg/response"
)

// requireActor resolves the authenticated actor or writes 401.
func requireActor(c *gin.Context) (models.Actor, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return service.ActorFromClaims(claims), true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) (*int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must be an integer"))
		return nil, false
	}
	return &v, true
}
