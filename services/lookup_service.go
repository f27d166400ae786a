package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	"github.com/yashrajoria/fotofacil-backend/repository"
)

// Lookup types.
const (
	LookupByCPF   = "cpf"
	LookupByEmail = "email"
)

type LookupRequest struct {
	Type  string `json:"type" binding:"required,oneof=cpf email"`
	Value string `json:"value" binding:"required,max=320"`
}

type OrderSummary struct {
	OrderID           uuid.UUID  `json:"order_id"`
	Status            string     `json:"status"`
	TotalCents        int        `json:"total_cents"`
	ItemCount         int        `json:"item_count"`
	CreatedAt         time.Time  `json:"created_at"`
	DeliveryLink      string     `json:"delivery_link,omitempty"`
	DeliveryExpiresAt *time.Time `json:"delivery_expires_at,omitempty"`
}

type LookupResponse struct {
	Orders []OrderSummary `json:"orders"`
}

type LookupService struct {
	customers repository.CustomerRepository
	orders    repository.OrderRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewLookupService(customers repository.CustomerRepository, orders repository.OrderRepository, logger *zap.Logger) *LookupService {
	return &LookupService{customers: customers, orders: orders, logger: logger, now: time.Now}
}

// Lookup lists a customer's orders by CPF or email. Paid orders with a live
// token carry their delivery link.
func (s *LookupService) Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, *ServiceError) {
	if serr := validateRequest(req); serr != nil {
		return nil, serr
	}

	var customerIDs []uuid.UUID
	switch req.Type {
	case LookupByCPF:
		key, err := CPFLookupKey(req.Value)
		if err != nil {
			return nil, validationError(err.Error())
		}
		c, err := s.customers.FindByCPFHash(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound(CodeNotFound, "No orders found for this CPF.")
		}
		if err != nil {
			return nil, internalError("Failed to look up customer", err)
		}
		customerIDs = []uuid.UUID{c.ID}
	case LookupByEmail:
		email := strings.ToLower(strings.TrimSpace(req.Value))
		if !isValidEmail(email) {
			return nil, validationError("invalid email address")
		}
		found, err := s.customers.FindByEmail(ctx, email)
		if err != nil {
			return nil, internalError("Failed to look up customer", err)
		}
		for _, c := range found {
			customerIDs = append(customerIDs, c.ID)
		}
		if len(customerIDs) == 0 {
			return nil, notFound(CodeNotFound, "No orders found for this email.")
		}
	}

	orders, err := s.orders.FindByCustomerIDs(ctx, customerIDs)
	if err != nil {
		s.logger.Error("failed to list customer orders", zap.Error(err))
		return nil, internalError("Failed to list orders", err)
	}

	now := s.now()
	resp := &LookupResponse{Orders: make([]OrderSummary, 0, len(orders))}
	for i := range orders {
		resp.Orders = append(resp.Orders, summarize(&orders[i], now))
	}
	return resp, nil
}

func summarize(o *models.Order, now time.Time) OrderSummary {
	sum := OrderSummary{
		OrderID:    o.ID,
		Status:     o.Status,
		TotalCents: o.TotalCents,
		ItemCount:  len(o.Items),
		CreatedAt:  o.CreatedAt,
	}
	if isLive(o, now) {
		sum.DeliveryLink = DeliveryPath(o.ID, *o.DeliveryToken)
		sum.DeliveryExpiresAt = o.DeliveryExpiresAt
	}
	return sum
}
