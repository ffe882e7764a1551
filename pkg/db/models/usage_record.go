package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/pkg/enums"
)

// UsageRecord is one append-only row per inference request. Failed vendor
// calls are recorded too, with status=failed and no ledger entry attached.
type UsageRecord struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index:idx_usage_records_user_created"`
	RequestID        string            `gorm:"column:request_id;type:text;not null;index"`
	RequestType      enums.RequestType `gorm:"column:request_type;type:request_type_enum;not null"`
	ProviderID       string            `gorm:"column:provider_id;type:text;not null"`
	ModelID          string            `gorm:"column:model_id;type:text;not null"`
	InputTokens      int64             `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens     int64             `gorm:"column:output_tokens;not null;default:0"`
	CachedTokens     int64             `gorm:"column:cached_tokens;not null;default:0"`
	TotalTokens      int64             `gorm:"column:total_tokens;not null;default:0"`
	VendorCost       decimal.Decimal   `gorm:"column:vendor_cost;type:numeric(14,6);not null;default:0"`
	CreditsDeducted  int64             `gorm:"column:credits_deducted;not null;default:0"`
	MarginMultiplier decimal.Decimal   `gorm:"column:margin_multiplier;type:numeric(8,4);not null;default:1"`
	GrossMargin      decimal.Decimal   `gorm:"column:gross_margin;type:numeric(14,6);not null;default:0"`
	DurationMS       int64             `gorm:"column:duration_ms;not null;default:0"`
	Status           enums.UsageStatus `gorm:"column:status;type:usage_status_enum;not null;default:'success'"`
	ErrorMessage     *string           `gorm:"column:error_message"`
	LedgerEntryID    *uuid.UUID        `gorm:"column:ledger_entry_id;type:uuid"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_usage_records_user_created"`
}
