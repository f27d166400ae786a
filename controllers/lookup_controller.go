package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fotofacil-backend/services"
)

type LookupService interface {
	Lookup(ctx context.Context, req *services.LookupRequest) (*services.LookupResponse, *services.ServiceError)
}

type LookupController struct {
	Service LookupService
}

func NewLookupController(svc LookupService) *LookupController {
	return &LookupController{Service: svc}
}

// Lookup handles POST /fotofacil/lookup.
func (lc *LookupController) Lookup(ctx *gin.Context) {
	var req services.LookupRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": services.CodeValidation, "details": err.Error()})
		return
	}
	resp, svcErr := lc.Service.Lookup(ctx.Request.Context(), &req)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}
