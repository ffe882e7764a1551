package pricing

import (
	"context"

	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
)

// Repository exposes read access to the model_pricing table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActiveByProvider(ctx context.Context, providerID string) ([]models.ModelPricing, error)
	ListActive(ctx context.Context) ([]models.ModelPricing, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pricing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListActiveByProvider(ctx context.Context, providerID string) ([]models.ModelPricing, error) {
	var rows []models.ModelPricing
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND active = ?", providerID, true).
		Order("model_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.ModelPricing, error) {
	var rows []models.ModelPricing
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("provider_id ASC").
		Order("model_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
