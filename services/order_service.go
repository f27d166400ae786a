package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
	"github.com/yashrajoria/fotofacil-backend/providers"
	"github.com/yashrajoria/fotofacil-backend/repository"
)

type CustomerInput struct {
	Name  string `json:"name" binding:"required,max=255"`
	Email string `json:"email" binding:"required,email,max=320"`
	CPF   string `json:"cpf" binding:"required"`
	Phone string `json:"phone" binding:"max=32"`
}

type CreateOrderRequest struct {
	Customer       CustomerInput `json:"customer" binding:"required"`
	PhotoIDs       []uuid.UUID   `json:"photo_ids" binding:"required,min=1,max=200"`
	IdempotencyKey string        `json:"idempotency_key" binding:"required,max=128"`
}

// CheckoutResponse is what the buyer needs to pay for an order.
type CheckoutResponse struct {
	OrderID         uuid.UUID `json:"order_id"`
	Status          string    `json:"status"`
	TotalCents      int       `json:"total_cents"`
	PaymentID       string    `json:"payment_id,omitempty"`
	PixQRCode       string    `json:"pix_qr_code,omitempty"`
	PixQRCodeBase64 string    `json:"pix_qr_code_base64,omitempty"`
	PixTicketURL    string    `json:"pix_ticket_url,omitempty"`
	Replayed        bool      `json:"replayed"`
}

type OrderService struct {
	orders    repository.OrderRepository
	customers repository.CustomerRepository
	photos    repository.PhotoRepository
	settings  *SettingsService
	gateway   providers.PaymentGateway
	metrics   aws_pkg.Recorder
	logger    *zap.Logger
}

func NewOrderService(
	orders repository.OrderRepository,
	customers repository.CustomerRepository,
	photos repository.PhotoRepository,
	settings *SettingsService,
	gateway providers.PaymentGateway,
	metrics aws_pkg.Recorder,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:    orders,
		customers: customers,
		photos:    photos,
		settings:  settings,
		gateway:   gateway,
		metrics:   metrics,
		logger:    logger,
	}
}

// CreateOrder validates the cart, snapshots prices and opens a PIX charge.
// A repeated idempotency key returns the order created the first time.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CheckoutResponse, *ServiceError) {
	if serr := validateRequest(req); serr != nil {
		return nil, serr
	}
	cpfDigits, err := NormalizeCPF(req.Customer.CPF)
	if err != nil {
		return nil, validationError(err.Error())
	}
	if dup := firstDuplicate(req.PhotoIDs); dup != uuid.Nil {
		return nil, validationError(fmt.Sprintf("photo %s appears more than once", dup))
	}

	existing, err := s.orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return s.resume(ctx, existing, req, cpfDigits)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, internalError("Failed to check order", err)
	}

	customer, serr := s.resolveCustomer(ctx, req.Customer, cpfDigits)
	if serr != nil {
		return nil, serr
	}

	items, total, serr := s.snapshotItems(ctx, req.PhotoIDs)
	if serr != nil {
		return nil, serr
	}
	if total <= 0 {
		return nil, validationError("order total must be greater than zero")
	}

	order := &models.Order{
		ID:             uuid.New(),
		CustomerID:     customer.ID,
		IdempotencyKey: req.IdempotencyKey,
		TotalCents:     total,
		Status:         models.OrderStatusCreated,
		Version:        1,
		Items:          items,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// A concurrent request with the same key may have won the insert.
		if winner, ferr := s.orders.FindByIdempotencyKey(ctx, req.IdempotencyKey); ferr == nil {
			return s.resume(ctx, winner, req, cpfDigits)
		}
		s.logger.Error("failed to create order", zap.Error(err))
		return nil, internalError("Failed to create order", err)
	}
	recordCount(s.metrics, aws_pkg.MetricOrdersCreated, nil)
	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.Int("items", len(items)),
		zap.Int("total_cents", total),
	)

	return s.openPayment(ctx, order, req, cpfDigits)
}

// resume answers a replayed request. An order whose payment was never opened
// gets another attempt under the same idempotency key.
func (s *OrderService) resume(ctx context.Context, order *models.Order, req *CreateOrderRequest, cpfDigits string) (*CheckoutResponse, *ServiceError) {
	if order.Status == models.OrderStatusCreated && order.PaymentID == nil {
		resp, serr := s.openPayment(ctx, order, req, cpfDigits)
		if resp != nil {
			resp.Replayed = true
		}
		return resp, serr
	}
	resp := checkoutResponse(order)
	resp.Replayed = true
	return resp, nil
}

func (s *OrderService) openPayment(ctx context.Context, order *models.Order, req *CreateOrderRequest, cpfDigits string) (*CheckoutResponse, *ServiceError) {
	pix, err := s.gateway.CreatePixPayment(ctx, providers.PixPaymentRequest{
		OrderID:        order.ID.String(),
		AmountCents:    order.TotalCents,
		Description:    fmt.Sprintf("FotoFácil pedido %s", order.ID.String()[:8]),
		PayerEmail:     strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		PayerName:      req.Customer.Name,
		PayerCPF:       cpfDigits,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.logger.Error("payment gateway rejected pix creation",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, upstreamError(CodeGateway, "Payment provider unavailable, please try again", err)
	}

	updates := map[string]interface{}{
		"payment_id":         pix.ID,
		"pix_qr_code":        pix.QRCode,
		"pix_qr_code_base64": pix.QRCodeBase64,
		"pix_ticket_url":     pix.TicketURL,
		"status":             models.OrderStatusPending,
	}
	err = s.orders.UpdateWithVersion(ctx, order.ID, order.Version, updates)
	if errors.Is(err, repository.ErrConflict) {
		// A webhook already moved the order; report its current state.
		current, ferr := s.orders.FindByID(ctx, order.ID)
		if ferr != nil {
			return nil, internalError("Failed to reload order", ferr)
		}
		return checkoutResponse(current), nil
	}
	if err != nil {
		s.logger.Error("failed to store payment on order", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, internalError("Failed to save payment", err)
	}

	order.Status = models.OrderStatusPending
	order.PaymentID = &pix.ID
	order.PixQRCode = pix.QRCode
	order.PixQRCodeBase64 = pix.QRCodeBase64
	order.PixTicketURL = pix.TicketURL
	order.Version++
	return checkoutResponse(order), nil
}

func (s *OrderService) resolveCustomer(ctx context.Context, in CustomerInput, cpfDigits string) (*models.Customer, *ServiceError) {
	hash := HashCPF(cpfDigits)
	customer, err := s.customers.FindByCPFHash(ctx, hash)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError("Failed to look up customer", err)
	}

	customer = &models.Customer{
		ID:      uuid.New(),
		CPFHash: hash,
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Name:    strings.TrimSpace(in.Name),
		Phone:   strings.TrimSpace(in.Phone),
	}
	if err := s.customers.Create(ctx, customer); err != nil {
		// Unique cpf_hash: another checkout created the customer first.
		if again, ferr := s.customers.FindByCPFHash(ctx, hash); ferr == nil {
			return again, nil
		}
		return nil, internalError("Failed to create customer", err)
	}
	return customer, nil
}

// snapshotItems prices each photo now: photo override, then event price,
// then the studio default.
func (s *OrderService) snapshotItems(ctx context.Context, ids []uuid.UUID) ([]models.OrderItem, int, *ServiceError) {
	photos, err := s.photos.FindActiveByIDs(ctx, ids)
	if err != nil {
		return nil, 0, internalError("Failed to load photos", err)
	}
	byID := make(map[uuid.UUID]models.Photo, len(photos))
	for _, p := range photos {
		byID[p.ID] = p
	}

	settings, serr := s.settings.Load(ctx)
	if serr != nil {
		return nil, 0, serr
	}

	items := make([]models.OrderItem, 0, len(ids))
	total := 0
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, 0, &ServiceError{
				StatusCode: http.StatusBadRequest,
				Code:       CodePhotoUnavailable,
				Message:    fmt.Sprintf("photo %s is not available for purchase", id),
			}
		}
		price := PhotoPrice(p, settings.DefaultPhotoPriceCents)
		items = append(items, models.OrderItem{ID: uuid.New(), PhotoID: id, PriceCents: price})
		total += price
	}
	return items, total, nil
}

// PhotoPrice resolves the current price of a photo in cents.
func PhotoPrice(p models.Photo, defaultCents int) int {
	if p.PriceCents != nil {
		return *p.PriceCents
	}
	if p.Event != nil && p.Event.PriceCents > 0 {
		return p.Event.PriceCents
	}
	return defaultCents
}

func checkoutResponse(o *models.Order) *CheckoutResponse {
	resp := &CheckoutResponse{
		OrderID:         o.ID,
		Status:          o.Status,
		TotalCents:      o.TotalCents,
		PixQRCode:       o.PixQRCode,
		PixQRCodeBase64: o.PixQRCodeBase64,
		PixTicketURL:    o.PixTicketURL,
	}
	if o.PaymentID != nil {
		resp.PaymentID = *o.PaymentID
	}
	return resp
}

func firstDuplicate(ids []uuid.UUID) uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return uuid.Nil
}

// DeliveryPath is the client route that opens the delivery gate.
func DeliveryPath(orderID uuid.UUID, token string) string {
	return fmt.Sprintf("/fotofacil/entrega/%s/%s", orderID, token)
}

func isLive(o *models.Order, now time.Time) bool {
	return o.Status == models.OrderStatusPaid &&
		o.DeliveryToken != nil &&
		o.DeliveryExpiresAt != nil &&
		!now.After(*o.DeliveryExpiresAt)
}
