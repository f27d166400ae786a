package models

import "time"

const (
	WatermarkAssetID   = "global"
	WatermarkAssetPath = "watermarks/selo.png"
)

// WatermarkAsset is the single configuration record for the studio seal.
// Replacing it swaps object and record together and bumps Version.
type WatermarkAsset struct {
	ID          string    `gorm:"type:varchar(32);primaryKey" json:"id"`
	Path        string    `gorm:"type:varchar(1024);not null" json:"path"`
	ContentType string    `gorm:"type:varchar(128)" json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Version     int       `gorm:"not null;default:1" json:"version"`
	UploadedBy  string    `gorm:"type:varchar(128)" json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// SiteSetting is a raw row of the key/value settings table.
type SiteSetting struct {
	Key       string    `gorm:"type:varchar(128);primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SiteSettings is the typed view of the settings table. Missing keys keep the
// defaults from DefaultSiteSettings.
type SiteSettings struct {
	StudioName             string `json:"studio_name"`
	ContactEmail           string `json:"contact_email"`
	WhatsApp               string `json:"whatsapp"`
	Instagram              string `json:"instagram"`
	FooterText             string `json:"footer_text"`
	DefaultPhotoPriceCents int    `json:"default_photo_price_cents"`
}

// DefaultSiteSettings documents the fallback for every setting.
func DefaultSiteSettings() SiteSettings {
	return SiteSettings{
		StudioName:             "Estúdio",
		ContactEmail:           "",
		WhatsApp:               "",
		Instagram:              "",
		FooterText:             "",
		DefaultPhotoPriceCents: 1500,
	}
}
