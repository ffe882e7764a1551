package costs

import (
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
)

// CreditsPerUSD fixes the exchange rate at 1 credit = $0.01. Every monetary
// boundary in the system converts through this constant.
const CreditsPerUSD = 100

var (
	one           = decimal.NewFromInt(1)
	creditsPerUSD = decimal.NewFromInt(CreditsPerUSD)
)

// VendorCost prices parsed token usage in USD. Cached input tokens are billed
// at the pricing row's cached rate, so a zero cached rate makes them free.
// Uncached input is input minus cached, floored at zero.
func VendorCost(u usage.TokenUsage, p pricing.Pricing) decimal.Decimal {
	cached := u.CachedInputTokens
	if cached < 0 {
		cached = 0
	}
	if cached > u.InputTokens {
		cached = u.InputTokens
	}
	uncached := u.InputTokens - cached

	cost := perMillion(uncached).Mul(p.InputPerMillion)
	cost = cost.Add(perMillion(cached).Mul(p.CachedInputPerMillion))
	cost = cost.Add(perMillion(u.OutputTokens).Mul(p.OutputPerMillion))
	return cost
}

// CreditsFromCost converts a vendor cost into whole credits to charge:
// ceil(cost * multiplier * CreditsPerUSD). Fractional credits always round
// up, never down.
func CreditsFromCost(cost, multiplier decimal.Decimal) int64 {
	if cost.Sign() <= 0 {
		return 0
	}
	return cost.Mul(multiplier).Mul(creditsPerUSD).Ceil().IntPart()
}

// GrossMargin is the USD retained after paying the vendor: cost * (multiplier - 1).
func GrossMargin(cost, multiplier decimal.Decimal) decimal.Decimal {
	return cost.Mul(multiplier.Sub(one))
}

func perMillion(tokens int64) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Shift(-6)
}
