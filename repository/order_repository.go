package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yashrajoria/fotofacil-backend/models"
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	FindByCustomerIDs(ctx context.Context, customerIDs []uuid.UUID) ([]models.Order, error)
	UpdateWithVersion(ctx context.Context, id uuid.UUID, version int, updates map[string]interface{}) error
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new instance of GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// Create inserts the order together with its items.
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID retrieves an order with its items and their photos
func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Items.Photo", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("id = ?", id).
		First(&order).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *GormOrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("idempotency_key = ?", key).
		First(&order).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// FindByCustomerIDs lists orders newest first
func (r *GormOrderRepository) FindByCustomerIDs(ctx context.Context, customerIDs []uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id IN ?", customerIDs).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}

// UpdateWithVersion applies updates only if the row still carries version,
// and bumps the version. A lost race returns ErrConflict.
func (r *GormOrderRepository) UpdateWithVersion(ctx context.Context, id uuid.UUID, version int, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// MarkDelivered sets delivered_at once. It reports whether this call set it.
func (r *GormOrderRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND delivered_at IS NULL", id, models.OrderStatusPaid).
		Update("delivered_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
