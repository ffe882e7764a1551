package costs

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
)

func testPricing(input, output, cached, multiplier string) pricing.Pricing {
	return pricing.Pricing{
		InputPerMillion:       decimal.RequireFromString(input),
		OutputPerMillion:      decimal.RequireFromString(output),
		CachedInputPerMillion: decimal.RequireFromString(cached),
		MarginMultiplier:      decimal.RequireFromString(multiplier),
	}
}

func TestVendorCostChatCompletion(t *testing.T) {
	u := usage.TokenUsage{InputTokens: 80, OutputTokens: 40}

	got := VendorCost(u, testPricing("2", "6", "0", "5"))

	if want := decimal.RequireFromString("0.0004"); !got.Equal(want) {
		t.Fatalf("vendor cost = %s, want %s", got, want)
	}
}

func TestVendorCostBillsCachedAtCachedRate(t *testing.T) {
	u := usage.TokenUsage{InputTokens: 1000, CachedInputTokens: 400}

	got := VendorCost(u, testPricing("10", "30", "1", "4"))

	// 600 uncached at $10/M plus 400 cached at $1/M.
	if want := decimal.RequireFromString("0.0064"); !got.Equal(want) {
		t.Fatalf("vendor cost = %s, want %s", got, want)
	}
}

func TestVendorCostCachedFreeWithoutRate(t *testing.T) {
	u := usage.TokenUsage{InputTokens: 1000, CachedInputTokens: 400}

	got := VendorCost(u, testPricing("10", "30", "0", "4"))

	if want := decimal.RequireFromString("0.006"); !got.Equal(want) {
		t.Fatalf("vendor cost = %s, want %s", got, want)
	}
}

func TestVendorCostClampsCachedToInput(t *testing.T) {
	u := usage.TokenUsage{InputTokens: 1000, CachedInputTokens: 5000}

	got := VendorCost(u, testPricing("10", "30", "1", "4"))

	if want := decimal.RequireFromString("0.001"); !got.Equal(want) {
		t.Fatalf("vendor cost = %s, want %s", got, want)
	}
}

func TestVendorCostZeroUsage(t *testing.T) {
	got := VendorCost(usage.TokenUsage{}, testPricing("10", "30", "1", "4"))

	if !got.IsZero() {
		t.Fatalf("vendor cost = %s, want zero", got)
	}
}

func TestCreditsFromCostRoundsUp(t *testing.T) {
	cases := []struct {
		name       string
		cost       string
		multiplier string
		want       int64
	}{
		{name: "fractional credit rounds to one", cost: "0.0004", multiplier: "5", want: 1},
		{name: "exact credit stays exact", cost: "0.02", multiplier: "5", want: 10},
		{name: "half credit rounds up", cost: "0.021", multiplier: "5", want: 11},
		{name: "zero cost charges nothing", cost: "0", multiplier: "5", want: 0},
		{name: "negative cost charges nothing", cost: "-1", multiplier: "5", want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CreditsFromCost(decimal.RequireFromString(tc.cost), decimal.RequireFromString(tc.multiplier))
			if got != tc.want {
				t.Fatalf("credits = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGrossMargin(t *testing.T) {
	got := GrossMargin(decimal.RequireFromString("0.5"), decimal.RequireFromString("5"))
	if want := decimal.RequireFromString("2"); !got.Equal(want) {
		t.Fatalf("gross margin = %s, want %s", got, want)
	}

	atCost := GrossMargin(decimal.RequireFromString("0.5"), decimal.RequireFromString("1"))
	if !atCost.IsZero() {
		t.Fatalf("gross margin at 1x multiplier = %s, want zero", atCost)
	}
}
