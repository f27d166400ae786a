package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fotofacil-backend/services"
)

func writeError(ctx *gin.Context, svcErr *services.ServiceError) {
	if svcErr.Err != nil {
		_ = ctx.Error(svcErr)
	}
	ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message, "code": svcErr.Code})
}
