package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fotofacil-backend/models"
	"github.com/yashrajoria/fotofacil-backend/services"
)

type SettingsService interface {
	Load(ctx context.Context) (models.SiteSettings, *services.ServiceError)
}

type SettingsController struct {
	Service SettingsService
}

func NewSettingsController(svc SettingsService) *SettingsController {
	return &SettingsController{Service: svc}
}

func (sc *SettingsController) GetSettings(ctx *gin.Context) {
	settings, svcErr := sc.Service.Load(ctx.Request.Context())
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, settings)
}
