package validators

import "strings"

// SanitizeString trims whitespace and caps length; admin notes and reversal
// reasons pass through here before they reach the ledger.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}
