package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/yashrajoria/fotofacil-backend/models"
)

type CustomerRepository interface {
	FindByCPFHash(ctx context.Context, cpfHash string) (*models.Customer, error)
	FindByEmail(ctx context.Context, email string) ([]models.Customer, error)
	Create(ctx context.Context, customer *models.Customer) error
}

type GormCustomerRepository struct {
	db *gorm.DB
}

func NewGormCustomerRepository(db *gorm.DB) CustomerRepository {
	return &GormCustomerRepository{db: db}
}

func (r *GormCustomerRepository) FindByCPFHash(ctx context.Context, cpfHash string) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.WithContext(ctx).Where("cpf_hash = ?", cpfHash).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *GormCustomerRepository) FindByEmail(ctx context.Context, email string) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).Where("email = ?", email).Find(&customers).Error
	return customers, err
}

func (r *GormCustomerRepository) Create(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}
