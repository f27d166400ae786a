package services

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	"github.com/yashrajoria/fotofacil-backend/repository"
)

// Setting keys stored in site_settings.
const (
	SettingStudioName        = "studio_name"
	SettingContactEmail      = "contact_email"
	SettingWhatsApp          = "whatsapp"
	SettingInstagram         = "instagram"
	SettingFooterText        = "footer_text"
	SettingDefaultPhotoPrice = "default_photo_price_cents"
)

type SettingsService struct {
	repo   repository.SettingsRepository
	logger *zap.Logger
}

func NewSettingsService(repo repository.SettingsRepository, logger *zap.Logger) *SettingsService {
	return &SettingsService{repo: repo, logger: logger}
}

// Load reads the settings table into the typed struct. Unknown keys are
// ignored and missing or malformed ones keep their defaults.
func (s *SettingsService) Load(ctx context.Context) (models.SiteSettings, *ServiceError) {
	settings := models.DefaultSiteSettings()
	rows, err := s.repo.All(ctx)
	if err != nil {
		s.logger.Error("failed to load site settings", zap.Error(err))
		return settings, internalError("Failed to load settings", err)
	}

	for _, row := range rows {
		v := strings.TrimSpace(row.Value)
		if v == "" {
			continue
		}
		switch row.Key {
		case SettingStudioName:
			settings.StudioName = v
		case SettingContactEmail:
			settings.ContactEmail = v
		case SettingWhatsApp:
			settings.WhatsApp = v
		case SettingInstagram:
			settings.Instagram = v
		case SettingFooterText:
			settings.FooterText = v
		case SettingDefaultPhotoPrice:
			price, err := strconv.Atoi(v)
			if err != nil || price < 0 {
				s.logger.Warn("ignoring malformed setting", zap.String("key", row.Key), zap.String("value", v))
				continue
			}
			settings.DefaultPhotoPriceCents = price
		}
	}
	return settings, nil
}
