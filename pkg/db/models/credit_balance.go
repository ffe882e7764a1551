package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditBalance is the authoritative per-user credit position. Rows are
// mutated only inside ledger transactions and are created lazily at zero on
// the first debit or grant.
type CreditBalance struct {
	UserID              uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	Amount              int64      `gorm:"column:amount;not null;default:0;check:amount >= 0"`
	LastDeductionAt     *time.Time `gorm:"column:last_deduction_at"`
	LastDeductionAmount *int64     `gorm:"column:last_deduction_amount"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
