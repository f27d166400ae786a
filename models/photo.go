package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Storage collections.
const (
	CollectionFotoFacil = "fotofacil"
	CollectionPortfolio = "portfolio"
)

// Event groups purchasable photos and carries their default price.
type Event struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name       string         `gorm:"type:varchar(255);not null" json:"name"`
	Slug       string         `gorm:"type:varchar(255);uniqueIndex" json:"slug"`
	PriceCents int            `gorm:"not null;default:0" json:"price_cents"`
	Active     bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// Photo is a purchasable image. OriginalPath is private and only ever served
// through a signed URL after payment.
type Photo struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"event_id"`
	Event           *Event         `gorm:"foreignKey:EventID" json:"-"`
	OriginalPath    string         `gorm:"type:varchar(1024);not null" json:"-"`
	WatermarkedPath string         `gorm:"type:varchar(1024);not null" json:"watermarked_path"`
	WatermarkedURL  string         `gorm:"type:varchar(2048)" json:"watermarked_url"`
	Filename        string         `gorm:"type:varchar(512)" json:"filename"`
	ContentType     string         `gorm:"type:varchar(128)" json:"content_type"`
	SizeBytes       int64          `json:"size_bytes"`
	PriceCents      *int           `json:"price_cents,omitempty"`
	Active          bool           `gorm:"not null;default:true" json:"active"`
	DisplayOrder    int            `gorm:"not null;default:0" json:"display_order"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}
