package costs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
	"github.com/scribeflow/scribeflow-backend/pkg/config"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
)

// Estimator produces the conservative pre-flight credit estimate that gates
// a request before any vendor call. Estimates are biased high: the safety
// margin is applied on top of the raw calculator output, and unknown pricing
// resolves to the expensive fallback rate instead of zero.
type Estimator interface {
	EstimateCredits(ctx context.Context, userID uuid.UUID, providerID, modelID string, estInputTokens, outputCeiling int64) (int64, error)
}

type estimator struct {
	pricing       pricing.Service
	marginPct     int64
	outputCeiling int64
}

// NewEstimator builds the estimator from metering config. The config loader
// already enforces the safety-margin floor; the constructor only rejects
// zero values from hand-built configs.
func NewEstimator(p pricing.Service, cfg config.MeteringConfig) (Estimator, error) {
	if p == nil {
		return nil, fmt.Errorf("pricing service required")
	}
	if cfg.SafetyMarginPct <= 0 {
		return nil, fmt.Errorf("safety margin required")
	}
	if cfg.DefaultOutputCeiling <= 0 {
		return nil, fmt.Errorf("default output ceiling required")
	}
	return &estimator{
		pricing:       p,
		marginPct:     int64(cfg.SafetyMarginPct),
		outputCeiling: cfg.DefaultOutputCeiling,
	}, nil
}

// EstimateCredits prices a worst-case request: every estimated input token
// uncached plus the full output ceiling. A zero ceiling falls back to the
// configured default.
func (e *estimator) EstimateCredits(ctx context.Context, userID uuid.UUID, providerID, modelID string, estInputTokens, outputCeiling int64) (int64, error) {
	if estInputTokens < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "estimated input tokens cannot be negative")
	}
	if outputCeiling <= 0 {
		outputCeiling = e.outputCeiling
	}

	price, err := e.pricing.Resolve(ctx, providerID, modelID, userID)
	if pkgerrors.IsCode(err, pkgerrors.CodePricingNotFound) {
		price, err = e.pricing.FallbackFor(ctx, userID)
	}
	if err != nil {
		return 0, err
	}

	projected := usage.TokenUsage{InputTokens: estInputTokens, OutputTokens: outputCeiling}
	credits := CreditsFromCost(VendorCost(projected, price), price.MarginMultiplier)
	return withSafetyMargin(credits, e.marginPct), nil
}

// withSafetyMargin scales raw credits up by marginPct, rounding up.
func withSafetyMargin(credits, marginPct int64) int64 {
	if credits <= 0 {
		return 0
	}
	scaled := credits * (100 + marginPct)
	return (scaled + 99) / 100
}
