package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyUsageSummary aggregates one user's usage for one UTC day. Counters
// only move via additive upserts inside the debit transaction; the row is
// never read-modified-written.
type DailyUsageSummary struct {
	UserID               uuid.UUID       `gorm:"column:user_id;type:uuid;primaryKey"`
	UsageDate            time.Time       `gorm:"column:usage_date;type:date;primaryKey"`
	TotalRequests        int64           `gorm:"column:total_requests;not null;default:0"`
	TotalInputTokens     int64           `gorm:"column:total_input_tokens;not null;default:0"`
	TotalOutputTokens    int64           `gorm:"column:total_output_tokens;not null;default:0"`
	TotalCachedTokens    int64           `gorm:"column:total_cached_tokens;not null;default:0"`
	TotalVendorCost      decimal.Decimal `gorm:"column:total_vendor_cost;type:numeric(14,6);not null;default:0"`
	TotalCreditsDeducted int64           `gorm:"column:total_credits_deducted;not null;default:0"`
	TotalGrossMargin     decimal.Decimal `gorm:"column:total_gross_margin;type:numeric(14,6);not null;default:0"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
