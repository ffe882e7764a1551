package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
)

// Repository exposes the read surface the metering domain needs. User
// lifecycle (signup, tier changes) is owned by the account system; rows
// here are replicated for tier resolution and allowance grants.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListActiveAfter pages through active users in stable id order. Pass
// uuid.Nil to start from the beginning; the allowance job sweeps the table
// in batches this way.
func (r *Repository) ListActiveAfter(ctx context.Context, after uuid.UUID, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var rows []models.User
	err := query.
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
