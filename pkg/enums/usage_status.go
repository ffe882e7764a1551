package enums

import "fmt"

// UsageStatus maps to the usage_status_enum enum in Postgres. Failed vendor
// calls are still recorded, with zero or partial token counts and no debit.
type UsageStatus string

const (
	UsageStatusSuccess UsageStatus = "success"
	UsageStatusFailed  UsageStatus = "failed"
)

var validUsageStatuses = []UsageStatus{
	UsageStatusSuccess,
	UsageStatusFailed,
}

// IsValid reports whether the value matches the canonical usage status enum.
func (s UsageStatus) IsValid() bool {
	for _, candidate := range validUsageStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseUsageStatus converts raw input into UsageStatus.
func ParseUsageStatus(value string) (UsageStatus, error) {
	for _, candidate := range validUsageStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage status %q", value)
}
