package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
	"github.com/yashrajoria/fotofacil-backend/providers"
	"github.com/yashrajoria/fotofacil-backend/repository"
)

const (
	// DeliveryTTL is how long a delivery token stays valid after payment.
	DeliveryTTL = 24 * time.Hour
	// deliveryTokenBytes yields a 43 character base64url token.
	deliveryTokenBytes = 32
	maxCASAttempts     = 3
)

// Webhook outcomes.
const (
	OutcomeApplied        = "applied"
	OutcomeUnchanged      = "unchanged"
	OutcomeIgnored        = "ignored"
	OutcomeDuplicate      = "duplicate"
	OutcomeAmountMismatch = "amount_mismatch"
)

// NotificationID accepts the payment id as either a JSON string or number.
type NotificationID string

func (n *NotificationID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NotificationID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = NotificationID(num.String())
	return nil
}

// WebhookNotification is the body Mercado Pago posts to the webhook.
type WebhookNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID NotificationID `json:"id"`
	} `json:"data"`
	// RequestID is the x-request-id header of the delivery.
	RequestID string `json:"-"`
}

// TransitionResult describes what a gateway status did to an order.
type TransitionResult struct {
	Outcome     string    `json:"outcome"`
	OrderID     uuid.UUID `json:"order_id,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	TokenIssued bool      `json:"token_issued"`
	Reason      string    `json:"reason,omitempty"`
}

// PaymentStatusView is returned to a polling buyer.
type PaymentStatusView struct {
	OrderID           uuid.UUID  `json:"order_id"`
	Status            string     `json:"status"`
	TotalCents        int        `json:"total_cents"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	DeliveryLink      string     `json:"delivery_link,omitempty"`
	DeliveryExpiresAt *time.Time `json:"delivery_expires_at,omitempty"`
}

type PaymentService struct {
	orders    repository.OrderRepository
	gateway   providers.PaymentGateway
	deduper   NotificationDeduper
	publisher *StatusPublisher
	metrics   aws_pkg.Recorder
	logger    *zap.Logger
	now       func() time.Time
	newToken  func() (string, error)
}

func NewPaymentService(
	orders repository.OrderRepository,
	gateway providers.PaymentGateway,
	deduper NotificationDeduper,
	publisher *StatusPublisher,
	metrics aws_pkg.Recorder,
	logger *zap.Logger,
) *PaymentService {
	if deduper == nil {
		deduper = NopDeduper{}
	}
	return &PaymentService{
		orders:    orders,
		gateway:   gateway,
		deduper:   deduper,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		newToken:  NewDeliveryToken,
	}
}

// NewDeliveryToken returns 32 random bytes encoded as unpadded base64url.
func NewDeliveryToken() (string, error) {
	b := make([]byte, deliveryTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MapGatewayStatus maps a Mercado Pago status onto an order status.
func MapGatewayStatus(status string) string {
	switch strings.ToLower(status) {
	case providers.GatewayStatusApproved:
		return models.OrderStatusPaid
	case providers.GatewayStatusRejected, providers.GatewayStatusCancelled:
		return models.OrderStatusFailed
	}
	return models.OrderStatusPending
}

// HandleWebhook applies a gateway notification. The status is always read
// back from the gateway; the notification body is never trusted.
func (s *PaymentService) HandleWebhook(ctx context.Context, n WebhookNotification) (*TransitionResult, *ServiceError) {
	if n.Type != "payment" {
		return &TransitionResult{Outcome: OutcomeIgnored, Reason: "unsupported notification type"}, nil
	}
	paymentID := strings.TrimSpace(string(n.Data.ID))
	if paymentID == "" {
		return nil, validationError("notification carries no payment id")
	}

	key := dedupeKey(n, paymentID)
	first, err := s.deduper.FirstSeen(ctx, key)
	if err != nil {
		s.logger.Warn("dedupe store unavailable, processing anyway", zap.Error(err))
		first = true
	}
	if !first {
		recordCount(s.metrics, aws_pkg.MetricWebhookDuplicates, nil)
		return &TransitionResult{Outcome: OutcomeDuplicate}, nil
	}

	result, serr := s.processWebhook(ctx, paymentID)
	if serr != nil {
		// Let the gateway's retry reach us again.
		if rerr := s.deduper.Release(ctx, key); rerr != nil {
			s.logger.Warn("failed to release dedupe key", zap.String("key", key), zap.Error(rerr))
		}
		return nil, serr
	}
	return result, nil
}

func (s *PaymentService) processWebhook(ctx context.Context, paymentID string) (*TransitionResult, *ServiceError) {
	detail, err := s.gateway.GetPayment(ctx, paymentID)
	if errors.Is(err, providers.ErrInvalidPaymentID) {
		return nil, validationError("notification carries a malformed payment id")
	}
	if err != nil {
		s.logger.Error("failed to fetch payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, upstreamError(CodeGateway, "Failed to fetch payment", err)
	}

	rawID, ok := providers.OrderIDFromReference(detail.ExternalReference)
	if !ok {
		return &TransitionResult{Outcome: OutcomeIgnored, Reason: "foreign external reference"}, nil
	}
	orderID, err := uuid.Parse(rawID)
	if err != nil {
		return &TransitionResult{Outcome: OutcomeIgnored, Reason: "malformed order id"}, nil
	}

	result, err := s.apply(ctx, orderID, detail, true)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("webhook for unknown order", zap.String("order_id", rawID), zap.String("payment_id", paymentID))
		return &TransitionResult{Outcome: OutcomeIgnored, OrderID: orderID, Reason: "order not found"}, nil
	}
	if err != nil {
		return nil, internalError("Failed to update order", err)
	}
	return result, nil
}

// CheckPaymentStatus polls the gateway for an order's payment. A poll never
// re-issues the token of an order that is already paid.
func (s *PaymentService) CheckPaymentStatus(ctx context.Context, orderID uuid.UUID) (*PaymentStatusView, *ServiceError) {
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound(CodeOrderNotFound, "Order not found")
	}
	if err != nil {
		return nil, internalError("Failed to load order", err)
	}

	if order.Status != models.OrderStatusPaid && order.PaymentID != nil {
		detail, gerr := s.gateway.GetPayment(ctx, *order.PaymentID)
		if gerr != nil {
			s.logger.Error("failed to poll payment", zap.String("order_id", orderID.String()), zap.Error(gerr))
			return nil, upstreamError(CodeGateway, "Failed to check payment", gerr)
		}
		if _, err := s.apply(ctx, orderID, detail, false); err != nil {
			return nil, internalError("Failed to update order", err)
		}
		if order, err = s.orders.FindByID(ctx, orderID); err != nil {
			return nil, internalError("Failed to reload order", err)
		}
	}
	return s.statusView(order), nil
}

func (s *PaymentService) statusView(o *models.Order) *PaymentStatusView {
	v := &PaymentStatusView{
		OrderID:    o.ID,
		Status:     o.Status,
		TotalCents: o.TotalCents,
		PaidAt:     o.PaidAt,
	}
	if isLive(o, s.now()) {
		v.DeliveryLink = DeliveryPath(o.ID, *o.DeliveryToken)
		v.DeliveryExpiresAt = o.DeliveryExpiresAt
	}
	return v
}

// apply moves the order according to the gateway status under a version
// check, re-reading and retrying when another writer got there first.
func (s *PaymentService) apply(ctx context.Context, orderID uuid.UUID, detail *providers.PaymentDetail, reissueOnPaid bool) (*TransitionResult, error) {
	target := MapGatewayStatus(detail.Status)

	for attempt := 1; ; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		result := &TransitionResult{OrderID: orderID, From: order.Status, To: order.Status}

		if target == models.OrderStatusPaid && detail.AmountCents > 0 && detail.AmountCents != order.TotalCents {
			s.logger.Error("approved amount differs from order total",
				zap.String("order_id", orderID.String()),
				zap.Int("paid_cents", detail.AmountCents),
				zap.Int("total_cents", order.TotalCents),
			)
			// the order stays pending; surface it so someone can reconcile
			recordCount(s.metrics, aws_pkg.MetricAmountMismatches, nil)
			s.publisher.Publish(ctx, models.OrderStatusEvent{
				Type:       EventOrderAmountMismatch,
				OrderID:    order.ID.String(),
				CustomerID: order.CustomerID.String(),
				PaymentID:  detail.ID,
				Status:     order.Status,
				TotalCents: order.TotalCents,
				PaidCents:  detail.AmountCents,
				Timestamp:  s.now().UTC(),
			})
			result.Outcome = OutcomeAmountMismatch
			return result, nil
		}

		updates, issued, err := s.transition(order, target, detail.ID, reissueOnPaid)
		if err != nil {
			return nil, err
		}
		if updates == nil {
			result.Outcome = OutcomeUnchanged
			return result, nil
		}

		err = s.orders.UpdateWithVersion(ctx, orderID, order.Version, updates)
		if errors.Is(err, repository.ErrConflict) && attempt < maxCASAttempts {
			s.logger.Info("order changed concurrently, retrying", zap.String("order_id", orderID.String()))
			continue
		}
		if err != nil {
			return nil, err
		}

		result.Outcome = OutcomeApplied
		result.To = updates["status"].(string)
		result.TokenIssued = issued
		s.afterTransition(ctx, order, result, detail.ID)
		return result, nil
	}
}

// transition returns the column updates for moving order towards target, or
// nil when nothing changes. paid never regresses; failed may still become
// paid on a late approval.
func (s *PaymentService) transition(order *models.Order, target, paymentID string, reissueOnPaid bool) (map[string]interface{}, bool, error) {
	from := order.Status
	switch {
	case target == models.OrderStatusPaid && (from != models.OrderStatusPaid || reissueOnPaid):
		token, err := s.newToken()
		if err != nil {
			return nil, false, err
		}
		now := s.now().UTC()
		expires := now.Add(DeliveryTTL)
		updates := map[string]interface{}{
			"status":              models.OrderStatusPaid,
			"delivery_token":      token,
			"delivery_expires_at": expires,
		}
		if order.PaidAt == nil {
			updates["paid_at"] = now
		}
		withPaymentID(updates, order, paymentID)
		return updates, true, nil

	case target == models.OrderStatusFailed && (from == models.OrderStatusCreated || from == models.OrderStatusPending):
		updates := map[string]interface{}{
			"status":    models.OrderStatusFailed,
			"failed_at": s.now().UTC(),
		}
		withPaymentID(updates, order, paymentID)
		return updates, false, nil

	case target == models.OrderStatusPending && from == models.OrderStatusCreated:
		updates := map[string]interface{}{"status": models.OrderStatusPending}
		withPaymentID(updates, order, paymentID)
		return updates, false, nil
	}
	return nil, false, nil
}

func (s *PaymentService) afterTransition(ctx context.Context, order *models.Order, result *TransitionResult, paymentID string) {
	s.logger.Info("order status applied",
		zap.String("order_id", order.ID.String()),
		zap.String("from", result.From),
		zap.String("to", result.To),
		zap.Bool("token_issued", result.TokenIssued),
	)

	var evtType string
	switch {
	case result.To == models.OrderStatusPaid && result.From != models.OrderStatusPaid:
		evtType = EventOrderPaid
		recordCount(s.metrics, aws_pkg.MetricOrdersPaid, nil)
	case result.To == models.OrderStatusFailed:
		evtType = EventOrderFailed
		recordCount(s.metrics, aws_pkg.MetricOrdersFailed, nil)
	default:
		return
	}

	s.publisher.Publish(ctx, models.OrderStatusEvent{
		Type:       evtType,
		OrderID:    order.ID.String(),
		CustomerID: order.CustomerID.String(),
		PaymentID:  paymentID,
		Status:     result.To,
		TotalCents: order.TotalCents,
		Timestamp:  s.now().UTC(),
	})
}

func withPaymentID(updates map[string]interface{}, order *models.Order, paymentID string) {
	if paymentID != "" && (order.PaymentID == nil || *order.PaymentID != paymentID) {
		updates["payment_id"] = paymentID
	}
}

// dedupeKey identifies one delivery. Gateway retries of the same delivery
// share the request id; without one the action stands in.
func dedupeKey(n WebhookNotification, paymentID string) string {
	if n.RequestID != "" {
		return "req:" + n.RequestID
	}
	action := n.Action
	if action == "" {
		action = "none"
	}
	return "pay:" + paymentID + ":" + action
}
