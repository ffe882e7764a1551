package enums

import "fmt"

// LedgerEntryStatus maps to the ledger_entry_status_enum enum in Postgres.
// Entries are immutable once completed; the only permitted transition is
// completed -> reversed.
type LedgerEntryStatus string

const (
	LedgerEntryStatusCompleted LedgerEntryStatus = "completed"
	LedgerEntryStatusReversed  LedgerEntryStatus = "reversed"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryStatusCompleted,
	LedgerEntryStatusReversed,
}

// IsValid reports whether the value matches the canonical entry status enum.
func (s LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerEntryStatus converts raw input into LedgerEntryStatus.
func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}
