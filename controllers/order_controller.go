package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yashrajoria/fotofacil-backend/services"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req *services.CreateOrderRequest) (*services.CheckoutResponse, *services.ServiceError)
}

type PaymentStatusChecker interface {
	CheckPaymentStatus(ctx context.Context, orderID uuid.UUID) (*services.PaymentStatusView, *services.ServiceError)
}

type OrderController struct {
	Service  OrderService
	Payments PaymentStatusChecker
}

func NewOrderController(svc OrderService, payments PaymentStatusChecker) *OrderController {
	return &OrderController{Service: svc, Payments: payments}
}

// CreateOrder handles POST /fotofacil/orders. Replays of a known
// idempotency key answer 200 with the original order.
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	var req services.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": services.CodeValidation, "details": err.Error()})
		return
	}

	resp, svcErr := oc.Service.CreateOrder(ctx.Request.Context(), &req)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	ctx.JSON(status, resp)
}

// PaymentStatus handles GET /fotofacil/orders/:id/payment.
func (oc *OrderController) PaymentStatus(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Order not found", "code": services.CodeOrderNotFound})
		return
	}
	view, svcErr := oc.Payments.CheckPaymentStatus(ctx.Request.Context(), id)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, view)
}
