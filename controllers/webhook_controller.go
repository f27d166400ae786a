package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/providers"
	"github.com/yashrajoria/fotofacil-backend/services"
)

const maxWebhookBody = 64 << 10

type WebhookHandler interface {
	HandleWebhook(ctx context.Context, n services.WebhookNotification) (*services.TransitionResult, *services.ServiceError)
}

type WebhookController struct {
	Service WebhookHandler
	// Secret enables x-signature verification when set.
	Secret string
	Logger *zap.Logger
}

func NewWebhookController(svc WebhookHandler, secret string, logger *zap.Logger) *WebhookController {
	return &WebhookController{Service: svc, Secret: secret, Logger: logger}
}

// MercadoPago handles POST /webhooks/mercadopago. Both the JSON body and the
// query-string form (type, data.id, or the legacy topic, id) are accepted.
func (wc *WebhookController) MercadoPago(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook", "code": services.CodeValidation})
		return
	}

	var n services.WebhookNotification
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			wc.Logger.Warn("malformed webhook body", zap.Error(err))
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook", "code": services.CodeValidation})
			return
		}
	}
	if n.Type == "" {
		n.Type = firstNonEmpty(ctx.Query("type"), ctx.Query("topic"))
	}
	queryID := firstNonEmpty(ctx.Query("data.id"), ctx.Query("id"))
	if n.Data.ID == "" {
		n.Data.ID = services.NotificationID(queryID)
	}
	n.RequestID = ctx.GetHeader("x-request-id")

	if wc.Secret != "" {
		dataID := firstNonEmpty(ctx.Query("data.id"), string(n.Data.ID))
		if err := providers.VerifyWebhookSignature(wc.Secret, ctx.GetHeader("x-signature"), n.RequestID, dataID); err != nil {
			wc.Logger.Warn("webhook signature verification failed",
				zap.String("request_id", n.RequestID),
				zap.String("data_id", dataID),
			)
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature", "code": "invalid_signature"})
			return
		}
	}

	result, svcErr := wc.Service.HandleWebhook(ctx.Request.Context(), n)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}

	wc.Logger.Info("processed payment notification",
		zap.String("type", n.Type),
		zap.String("payment_id", string(n.Data.ID)),
		zap.String("outcome", result.Outcome),
		zap.String("order_id", orderIDString(result)),
	)
	ctx.JSON(http.StatusOK, gin.H{"status": "received", "outcome": result.Outcome})
}

func orderIDString(r *services.TransitionResult) string {
	if r == nil || r.OrderID == uuid.Nil {
		return ""
	}
	return r.OrderID.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
