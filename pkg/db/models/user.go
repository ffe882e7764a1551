package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/scribeflow/scribeflow-backend/pkg/enums"
)

// User is the minimal identity surface the metering domain reads. Account
// management lives in a separate system; this service only needs the tier
// for margin resolution and allowance grants.
type User struct {
	ID               uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string                 `gorm:"type:text;not null;uniqueIndex"`
	SubscriptionTier enums.SubscriptionTier `gorm:"column:subscription_tier;type:subscription_tier_enum;not null;default:'free'"`
	IsActive         bool                   `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
