package enums

import "fmt"

// LedgerReason maps to the ledger_reason_enum enum in Postgres.
type LedgerReason string

const (
	LedgerReasonAPICompletion          LedgerReason = "api_completion"
	LedgerReasonReversal               LedgerReason = "reversal"
	LedgerReasonManualAdjustment       LedgerReason = "manual_adjustment"
	LedgerReasonSubscriptionAllocation LedgerReason = "subscription_allocation"
)

var validLedgerReasons = []LedgerReason{
	LedgerReasonAPICompletion,
	LedgerReasonReversal,
	LedgerReasonManualAdjustment,
	LedgerReasonSubscriptionAllocation,
}

// IsValid reports whether the value matches the canonical ledger reason enum.
func (r LedgerReason) IsValid() bool {
	for _, candidate := range validLedgerReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseLedgerReason converts raw input into LedgerReason.
func ParseLedgerReason(value string) (LedgerReason, error) {
	for _, candidate := range validLedgerReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger reason %q", value)
}
