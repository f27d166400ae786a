package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fotofacil-backend/services"
)

type DeliveryService interface {
	ValidateDelivery(ctx context.Context, rawOrderID, token string) (*services.Delivery, *services.ServiceError)
}

type DeliveryController struct {
	Service DeliveryService
}

func NewDeliveryController(svc DeliveryService) *DeliveryController {
	return &DeliveryController{Service: svc}
}

// Deliver handles GET /fotofacil/entrega/:order_id/:token.
func (dc *DeliveryController) Deliver(ctx *gin.Context) {
	delivery, svcErr := dc.Service.ValidateDelivery(ctx.Request.Context(), ctx.Param("order_id"), ctx.Param("token"))
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, delivery)
}
