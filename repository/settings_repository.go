package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yashrajoria/fotofacil-backend/models"
)

// WatermarkRepository stores the single watermark configuration record.
type WatermarkRepository interface {
	Get(ctx context.Context) (*models.WatermarkAsset, error)
	Replace(ctx context.Context, asset *models.WatermarkAsset) error
}

type GormWatermarkRepository struct {
	db *gorm.DB
}

func NewGormWatermarkRepository(db *gorm.DB) WatermarkRepository {
	return &GormWatermarkRepository{db: db}
}

func (r *GormWatermarkRepository) Get(ctx context.Context) (*models.WatermarkAsset, error) {
	var asset models.WatermarkAsset
	if err := r.db.WithContext(ctx).Where("id = ?", models.WatermarkAssetID).First(&asset).Error; err != nil {
		return nil, translate(err)
	}
	return &asset, nil
}

// Replace overwrites every field of the record in one transaction. asset.Version
// is set to the stored version plus one.
func (r *GormWatermarkRepository) Replace(ctx context.Context, asset *models.WatermarkAsset) error {
	asset.ID = models.WatermarkAssetID
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.WatermarkAsset
		err := tx.Where("id = ?", models.WatermarkAssetID).First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			asset.Version = 1
			return tx.Create(asset).Error
		case err != nil:
			return err
		}
		asset.Version = current.Version + 1
		return tx.Save(asset).Error
	})
}

// SettingsRepository reads the key/value site settings table.
type SettingsRepository interface {
	All(ctx context.Context) ([]models.SiteSetting, error)
}

type GormSettingsRepository struct {
	db *gorm.DB
}

func NewGormSettingsRepository(db *gorm.DB) SettingsRepository {
	return &GormSettingsRepository{db: db}
}

func (r *GormSettingsRepository) All(ctx context.Context) ([]models.SiteSetting, error) {
	var rows []models.SiteSetting
	err := r.db.WithContext(ctx).Find(&rows).Error
	return rows, err
}
