package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yashrajoria/fotofacil-backend/models"
)

// PhotoRepository defines data access for photos and their events.
type PhotoRepository interface {
	Create(ctx context.Context, photo *models.Photo) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Photo, error)
	NextDisplayOrder(ctx context.Context, eventID uuid.UUID) (int, error)
	IsReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// GormPhotoRepository implements PhotoRepository using GORM
type GormPhotoRepository struct {
	db *gorm.DB
}

func NewGormPhotoRepository(db *gorm.DB) PhotoRepository {
	return &GormPhotoRepository{db: db}
}

func (r *GormPhotoRepository) Create(ctx context.Context, photo *models.Photo) error {
	return r.db.WithContext(ctx).Create(photo).Error
}

func (r *GormPhotoRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	var photo models.Photo
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&photo).Error; err != nil {
		return nil, translate(err)
	}
	return &photo, nil
}

// FindActiveByIDs loads active photos with their event so prices can be
// resolved. Missing or inactive ids are simply absent from the result.
func (r *GormPhotoRepository) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Photo, error) {
	var photos []models.Photo
	err := r.db.WithContext(ctx).
		Preload("Event").
		Where("id IN ? AND active = ?", ids, true).
		Find(&photos).Error
	return photos, err
}

func (r *GormPhotoRepository) NextDisplayOrder(ctx context.Context, eventID uuid.UUID) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).
		Model(&models.Photo{}).
		Where("event_id = ?", eventID).
		Select("MAX(display_order)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max + 1, nil
}

// IsReferenced reports whether any order item points at the photo.
func (r *GormPhotoRepository) IsReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("photo_id = ?", id).
		Count(&count).Error
	return count > 0, err
}

func (r *GormPhotoRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Photo{}).
		Where("id = ?", id).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormPhotoRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Photo{}).Error
}
