package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
	"github.com/yashrajoria/fotofacil-backend/providers"
)

type paymentFixture struct {
	svc      *PaymentService
	orders   *memOrders
	gateway  *fakeGateway
	sns      *mockSNS
	producer *mockProducer
	metrics  *recordingMetrics
	tokens   int
}

func newPaymentFixture(t *testing.T, deduper NotificationDeduper) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		orders:   newMemOrders(newMemPhotos()),
		gateway:  newFakeGateway(),
		sns:      &mockSNS{},
		producer: &mockProducer{},
		metrics:  &recordingMetrics{},
	}
	logger := zap.NewNop()
	publisher := NewStatusPublisher(f.sns, "arn:aws:sns:us-east-1:000000000000:fotofacil-orders", f.producer, logger)
	f.svc = NewPaymentService(f.orders, f.gateway, deduper, publisher, f.metrics, logger)
	f.svc.now = func() time.Time { return fixedNow }
	f.svc.newToken = func() (string, error) {
		f.tokens++
		return fmt.Sprintf("token-%02d-abcdefghijklmnopqrstuvwxyz0123456789", f.tokens), nil
	}
	return f
}

func (f *paymentFixture) pendingOrder(paymentID string, total int) *models.Order {
	return f.orders.put(&models.Order{
		CustomerID:     uuid.New(),
		IdempotencyKey: uuid.NewString(),
		TotalCents:     total,
		Status:         models.OrderStatusPending,
		PaymentID:      &paymentID,
		Items:          []models.OrderItem{{ID: uuid.New(), PhotoID: uuid.New(), PriceCents: total}},
	})
}

func notification(paymentID, requestID string) WebhookNotification {
	n := WebhookNotification{Type: "payment", Action: "payment.updated", RequestID: requestID}
	n.Data.ID = NotificationID(paymentID)
	return n
}

func TestWebhook_ApprovedFlipsPendingToPaid(t *testing.T) {
	f := newPaymentFixture(t, nil)
	old := "stale-token"
	order := f.pendingOrder("5001", 3000)
	f.orders.byID[order.ID].DeliveryToken = &old
	f.gateway.setPayment("5001", "approved", providers.ExternalReference(order.ID.String()), 3000)

	res, serr := f.svc.HandleWebhook(context.Background(), notification("5001", "req-1"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.OrderStatusPending, res.From)
	assert.Equal(t, models.OrderStatusPaid, res.To)
	assert.True(t, res.TokenIssued)

	stored := f.orders.get(order.ID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.DeliveryToken)
	assert.NotEqual(t, old, *stored.DeliveryToken)
	require.NotNil(t, stored.DeliveryExpiresAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *stored.DeliveryExpiresAt)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, fixedNow, *stored.PaidAt)

	require.Len(t, f.producer.events, 1)
	assert.Equal(t, EventOrderPaid, f.producer.events[0].Type)
	assert.Equal(t, order.ID.String(), f.producer.events[0].OrderID)
	require.Len(t, f.sns.messages, 1)
	var evt models.OrderStatusEvent
	require.NoError(t, json.Unmarshal(f.sns.messages[0], &evt))
	assert.Equal(t, "5001", evt.PaymentID)
}

func TestWebhook_DuplicateDeliveryIsIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newPaymentFixture(t, NewRedisDeduper(client, time.Hour))
	order := f.pendingOrder("5002", 1500)
	f.gateway.setPayment("5002", "approved", providers.ExternalReference(order.ID.String()), 1500)

	first, serr := f.svc.HandleWebhook(context.Background(), notification("5002", "req-dup"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeApplied, first.Outcome)
	version := f.orders.get(order.ID).Version

	second, serr := f.svc.HandleWebhook(context.Background(), notification("5002", "req-dup"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, version, f.orders.get(order.ID).Version)
	assert.Equal(t, 1, f.gateway.gets)
	assert.True(t, mr.Exists("fotofacil:webhook:req:req-dup"))
}

func TestWebhook_FailedProcessingReleasesDedupeKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newPaymentFixture(t, NewRedisDeduper(client, time.Hour))
	order := f.pendingOrder("5003", 1500)
	f.gateway.setPayment("5003", "approved", providers.ExternalReference(order.ID.String()), 1500)
	f.gateway.getErr = errors.New("timeout")

	_, serr := f.svc.HandleWebhook(context.Background(), notification("5003", "req-retry"))
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusBadGateway, serr.StatusCode)
	assert.False(t, mr.Exists("fotofacil:webhook:req:req-retry"))

	f.gateway.getErr = nil
	res, serr := f.svc.HandleWebhook(context.Background(), notification("5003", "req-retry"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestWebhook_NewApprovalReissuesToken(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("5004", 1500)
	f.gateway.setPayment("5004", "approved", providers.ExternalReference(order.ID.String()), 1500)

	_, serr := f.svc.HandleWebhook(context.Background(), notification("5004", "req-a"))
	require.Nil(t, serr)
	firstToken := *f.orders.get(order.ID).DeliveryToken
	paidAt := *f.orders.get(order.ID).PaidAt

	later := fixedNow.Add(30 * time.Hour)
	f.svc.now = func() time.Time { return later }
	res, serr := f.svc.HandleWebhook(context.Background(), notification("5004", "req-b"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, res.TokenIssued)

	stored := f.orders.get(order.ID)
	assert.NotEqual(t, firstToken, *stored.DeliveryToken)
	assert.Equal(t, later.Add(DeliveryTTL), *stored.DeliveryExpiresAt)
	assert.Equal(t, paidAt, *stored.PaidAt, "paid_at keeps the first confirmation")
	assert.Len(t, f.producer.events, 1, "re-issue is not a new payment")
}

func TestWebhook_PaidNeverRegresses(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("5005", 1500)
	f.orders.byID[order.ID].Status = models.OrderStatusPaid
	f.gateway.setPayment("5005", "rejected", providers.ExternalReference(order.ID.String()), 1500)

	res, serr := f.svc.HandleWebhook(context.Background(), notification("5005", "req-x"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, models.OrderStatusPaid, f.orders.get(order.ID).Status)
}

func TestWebhook_RejectedThenLateApproval(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("5006", 1500)
	ref := providers.ExternalReference(order.ID.String())

	f.gateway.setPayment("5006", "rejected", ref, 1500)
	res, serr := f.svc.HandleWebhook(context.Background(), notification("5006", "r1"))
	require.Nil(t, serr)
	assert.Equal(t, models.OrderStatusFailed, res.To)
	assert.Nil(t, f.orders.get(order.ID).DeliveryToken)

	f.gateway.setPayment("5006", "in_process", ref, 1500)
	res, serr = f.svc.HandleWebhook(context.Background(), notification("5006", "r2"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeUnchanged, res.Outcome, "failed does not fall back to pending")

	f.gateway.setPayment("5006", "approved", ref, 1500)
	res, serr = f.svc.HandleWebhook(context.Background(), notification("5006", "r3"))
	require.Nil(t, serr)
	assert.Equal(t, models.OrderStatusPaid, res.To)

	require.Len(t, f.producer.events, 2)
	assert.Equal(t, EventOrderFailed, f.producer.events[0].Type)
	assert.Equal(t, EventOrderPaid, f.producer.events[1].Type)
}

func TestWebhook_IgnoredNotifications(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.gateway.setPayment("6001", "approved", "loja_123", 1500)
	f.gateway.setPayment("6002", "approved", providers.ExternalReference(uuid.NewString()), 1500)

	res, serr := f.svc.HandleWebhook(context.Background(), notification("6001", "i1"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res, serr = f.svc.HandleWebhook(context.Background(), notification("6002", "i2"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	n := notification("6001", "i3")
	n.Type = "merchant_order"
	res, serr = f.svc.HandleWebhook(context.Background(), n)
	require.Nil(t, serr)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	_, serr = f.svc.HandleWebhook(context.Background(), notification("", "i4"))
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
}

func TestWebhook_AmountMismatchNotPaid(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("5007", 3000)
	f.gateway.setPayment("5007", "approved", providers.ExternalReference(order.ID.String()), 100)

	res, serr := f.svc.HandleWebhook(context.Background(), notification("5007", "m1"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeAmountMismatch, res.Outcome)
	stored := f.orders.get(order.ID)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Nil(t, stored.DeliveryToken)

	assert.True(t, f.metrics.has(aws_pkg.MetricAmountMismatches))
	assert.False(t, f.metrics.has(aws_pkg.MetricOrdersPaid))
	require.Len(t, f.producer.events, 1)
	evt := f.producer.events[0]
	assert.Equal(t, EventOrderAmountMismatch, evt.Type)
	assert.Equal(t, order.ID.String(), evt.OrderID)
	assert.Equal(t, "5007", evt.PaymentID)
	assert.Equal(t, models.OrderStatusPending, evt.Status)
	assert.Equal(t, 3000, evt.TotalCents)
	assert.Equal(t, 100, evt.PaidCents)

	require.Len(t, f.sns.messages, 1)
	var published models.OrderStatusEvent
	require.NoError(t, json.Unmarshal(f.sns.messages[0], &published))
	assert.Equal(t, EventOrderAmountMismatch, published.Type)
	assert.Equal(t, 100, published.PaidCents)
}

func TestWebhook_MalformedPaymentIDIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newPaymentFixture(t, NewRedisDeduper(client, time.Hour))
	f.gateway.getErr = fmt.Errorf("mercadopago GetPayment: %w", providers.ErrInvalidPaymentID)

	_, serr := f.svc.HandleWebhook(context.Background(), notification("../v1/customers", "req-bad-id"))
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, CodeValidation, serr.Code)
	assert.False(t, mr.Exists("fotofacil:webhook:req:req-bad-id"))
	assert.Empty(t, f.producer.events)
}

func TestWebhook_RetriesOnConcurrentUpdate(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("5008", 1500)
	f.gateway.setPayment("5008", "approved", providers.ExternalReference(order.ID.String()), 1500)
	f.orders.conflictsLeft = 1

	res, serr := f.svc.HandleWebhook(context.Background(), notification("5008", "c1"))
	require.Nil(t, serr)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, 2, f.orders.updateCalls)
	assert.Equal(t, models.OrderStatusPaid, f.orders.get(order.ID).Status)
}

func TestCheckPaymentStatus(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("7001", 1500)
	f.gateway.setPayment("7001", "approved", providers.ExternalReference(order.ID.String()), 1500)

	view, serr := f.svc.CheckPaymentStatus(context.Background(), order.ID)
	require.Nil(t, serr)
	assert.Equal(t, models.OrderStatusPaid, view.Status)
	token := *f.orders.get(order.ID).DeliveryToken
	assert.Equal(t, DeliveryPath(order.ID, token), view.DeliveryLink)
	assert.Equal(t, 1, f.gateway.gets)

	// A paid order is answered from the database and keeps its token.
	view, serr = f.svc.CheckPaymentStatus(context.Background(), order.ID)
	require.Nil(t, serr)
	assert.Equal(t, 1, f.gateway.gets)
	assert.Equal(t, token, *f.orders.get(order.ID).DeliveryToken)
	assert.Equal(t, DeliveryPath(order.ID, token), view.DeliveryLink)

	f.svc.now = func() time.Time { return fixedNow.Add(25 * time.Hour) }
	view, serr = f.svc.CheckPaymentStatus(context.Background(), order.ID)
	require.Nil(t, serr)
	assert.Empty(t, view.DeliveryLink, "expired links are not shown")

	_, serr = f.svc.CheckPaymentStatus(context.Background(), uuid.New())
	require.NotNil(t, serr)
	assert.Equal(t, CodeOrderNotFound, serr.Code)
}

func TestCheckPaymentStatus_StillPending(t *testing.T) {
	f := newPaymentFixture(t, nil)
	order := f.pendingOrder("7002", 1500)
	f.gateway.setPayment("7002", "pending", providers.ExternalReference(order.ID.String()), 1500)

	view, serr := f.svc.CheckPaymentStatus(context.Background(), order.ID)
	require.Nil(t, serr)
	assert.Equal(t, models.OrderStatusPending, view.Status)
	assert.Empty(t, view.DeliveryLink)
}

func TestMapGatewayStatus(t *testing.T) {
	cases := map[string]string{
		"approved":     models.OrderStatusPaid,
		"APPROVED":     models.OrderStatusPaid,
		"rejected":     models.OrderStatusFailed,
		"cancelled":    models.OrderStatusFailed,
		"pending":      models.OrderStatusPending,
		"in_process":   models.OrderStatusPending,
		"authorized":   models.OrderStatusPending,
		"charged_back": models.OrderStatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapGatewayStatus(in), in)
	}
}

func TestNewDeliveryToken(t *testing.T) {
	a, err := NewDeliveryToken()
	require.NoError(t, err)
	b, err := NewDeliveryToken()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, a)
}

func TestNotificationID_AcceptsStringAndNumber(t *testing.T) {
	var n WebhookNotification
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","data":{"id":123456789}}`), &n))
	assert.Equal(t, NotificationID("123456789"), n.Data.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","data":{"id":"987"}}`), &n))
	assert.Equal(t, NotificationID("987"), n.Data.ID)
}
