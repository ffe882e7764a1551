package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ModelPricing holds the per-million-token vendor rates for one model.
// Prices must be strictly positive; a zero rate would silently give
// inference away, so the schema and the resolver both reject it.
type ModelPricing struct {
	ID                         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderID                 string           `gorm:"column:provider_id;type:text;not null;uniqueIndex:idx_model_pricing_provider_model,priority:1"`
	ModelID                    string           `gorm:"column:model_id;type:text;not null;uniqueIndex:idx_model_pricing_provider_model,priority:2"`
	Aliases                    pq.StringArray   `gorm:"column:aliases;type:text[];default:ARRAY[]::text[]"`
	InputPricePerMillion       decimal.Decimal  `gorm:"column:input_price_per_million;type:numeric(12,6);not null;check:input_price_per_million > 0"`
	OutputPricePerMillion      decimal.Decimal  `gorm:"column:output_price_per_million;type:numeric(12,6);not null;check:output_price_per_million > 0"`
	CachedInputPricePerMillion *decimal.Decimal `gorm:"column:cached_input_price_per_million;type:numeric(12,6)"`
	MarginOverride             *decimal.Decimal `gorm:"column:margin_override;type:numeric(8,4)"`
	Active                     bool             `gorm:"column:active;not null;default:true"`
	CreatedAt                  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the singular table name from the schema.
func (ModelPricing) TableName() string {
	return "model_pricing"
}
