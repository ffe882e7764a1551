package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/pkg/enums"
)

// LedgerEntry is one immutable line in a user's credit history. Positive
// amounts are credits consumed, negative amounts credits returned or granted.
// Financial fields never change after creation; a reversal flips Status and
// fills the reversal metadata, nothing else.
type LedgerEntry struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index:idx_ledger_entries_user_created"`
	Amount           int64                   `gorm:"column:amount;not null"`
	BalanceBefore    int64                   `gorm:"column:balance_before;not null"`
	BalanceAfter     int64                   `gorm:"column:balance_after;not null"`
	RequestID        string                  `gorm:"column:request_id;type:text;not null;uniqueIndex:idx_ledger_entries_request_id"`
	VendorCost       decimal.Decimal         `gorm:"column:vendor_cost;type:numeric(14,6);not null;default:0"`
	MarginMultiplier decimal.Decimal         `gorm:"column:margin_multiplier;type:numeric(8,4);not null;default:1"`
	GrossMargin      decimal.Decimal         `gorm:"column:gross_margin;type:numeric(14,6);not null;default:0"`
	Reason           enums.LedgerReason      `gorm:"column:reason;type:ledger_reason_enum;not null"`
	Status           enums.LedgerEntryStatus `gorm:"column:status;type:ledger_entry_status_enum;not null;default:'completed'"`
	Description      *string                 `gorm:"column:description"`
	ReversedAt       *time.Time              `gorm:"column:reversed_at"`
	ReversedBy       *uuid.UUID              `gorm:"column:reversed_by;type:uuid"`
	ReversalReason   *string                 `gorm:"column:reversal_reason"`
	ReversalEntryID  *uuid.UUID              `gorm:"column:reversal_entry_id;type:uuid"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime;index:idx_ledger_entries_user_created"`
}
