package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order status constants.
const (
	OrderStatusCreated = "created"
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// Customer is identified by the hash of their CPF, never the raw number.
type Customer struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CPFHash   string    `gorm:"type:char(64);uniqueIndex;not null" json:"-"`
	Email     string    `gorm:"type:varchar(320);index;not null" json:"email"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Phone     string    `gorm:"type:varchar(32)" json:"phone,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Order is a purchase attempt. TotalCents is fixed at creation from the item
// price snapshots. Version guards status transitions (compare-and-swap).
type Order struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CustomerID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"customer_id"`
	Customer          *Customer      `gorm:"foreignKey:CustomerID" json:"-"`
	IdempotencyKey    string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"-"`
	TotalCents        int            `gorm:"not null" json:"total_cents"`
	Status            string         `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	PaymentID         *string        `gorm:"type:varchar(64);index" json:"payment_id,omitempty"`
	PixQRCode         string         `gorm:"type:text" json:"pix_qr_code,omitempty"`
	PixQRCodeBase64   string         `gorm:"type:text" json:"pix_qr_code_base64,omitempty"`
	PixTicketURL      string         `gorm:"type:varchar(1024)" json:"pix_ticket_url,omitempty"`
	DeliveryToken     *string        `gorm:"type:varchar(128);index" json:"-"`
	DeliveryExpiresAt *time.Time     `json:"delivery_expires_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	FailedAt          *time.Time     `json:"failed_at,omitempty"`
	Version           int            `gorm:"not null;default:1" json:"-"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
	Items             []OrderItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
}

// OrderItem holds the price a photo had when the order was placed.
type OrderItem struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	PhotoID    uuid.UUID `gorm:"type:uuid;not null;index" json:"photo_id"`
	Photo      *Photo    `gorm:"foreignKey:PhotoID" json:"-"`
	PriceCents int       `gorm:"not null" json:"price_cents"`
}

// SumItems returns the total of the snapshotted item prices.
func (o *Order) SumItems() int {
	total := 0
	for _, it := range o.Items {
		total += it.PriceCents
	}
	return total
}

// OrderStatusEvent is published when an order reaches a terminal payment
// state, or when an approval is held back because its amount is wrong.
type OrderStatusEvent struct {
	Type       string    `json:"type"` // "order_paid", "order_failed" or "order_amount_mismatch"
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	PaymentID  string    `json:"payment_id"`
	Status     string    `json:"status"`
	TotalCents int       `json:"total_cents"`
	PaidCents  int       `json:"paid_cents,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
