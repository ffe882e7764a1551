package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/internal/costs"
	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
)

// Provider executes one inference call against an upstream vendor and
// returns the raw response body. Implementations live with the serving
// layer; the engine only needs the bytes the usage block is parsed from.
type Provider interface {
	Invoke(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// ProviderRequest is the vendor call the engine forwards untouched.
type ProviderRequest struct {
	ProviderID string
	ModelID    string
	Payload    []byte
}

// ProviderResponse carries the raw vendor response body.
type ProviderResponse struct {
	Body []byte
}

type costEstimator interface {
	EstimateCredits(ctx context.Context, userID uuid.UUID, providerID, modelID string, estInputTokens, outputCeiling int64) (int64, error)
}

type creditGate interface {
	ValidateSufficientCredits(ctx context.Context, userID uuid.UUID, requiredCredits int64) (*credits.GateResult, error)
	Deduct(ctx context.Context, input credits.DeductInput) (*credits.DeductResult, error)
}

type usageParser interface {
	Parse(ctx context.Context, raw []byte, providerID string) (usage.TokenUsage, error)
}

type pricingResolver interface {
	Resolve(ctx context.Context, providerID, modelID string, userID uuid.UUID) (pricing.Pricing, error)
	FallbackFor(ctx context.Context, userID uuid.UUID) (pricing.Pricing, error)
}

type usageRecorder interface {
	Record(ctx context.Context, record *models.UsageRecord) error
}

// Engine runs one metered inference request end to end: estimate, gate,
// vendor call, parse, price, record, debit. The gate is the only point
// where a request is refused before the vendor is called; once the vendor
// call starts the request runs to completion and failures after it are
// recorded but never debited.
type Engine interface {
	Execute(ctx context.Context, input ExecuteInput) (*Result, error)
}

// ExecuteInput describes one inference request to meter.
type ExecuteInput struct {
	UserID          uuid.UUID
	RequestID       string
	RequestType     enums.RequestType
	ProviderID      string
	ModelID         string
	Payload         []byte
	EstInputTokens  int64
	MaxOutputTokens int64 // zero means the configured output ceiling
}

// Result reports what one metered request used and what it was charged.
// LedgerEntryID and BalanceAfter are nil when no debit happened (zero-credit
// usage).
type Result struct {
	UsageRecordID  uuid.UUID
	LedgerEntryID  *uuid.UUID
	Usage          usage.TokenUsage
	VendorCost     decimal.Decimal
	CreditsCharged int64
	BalanceAfter   *int64
	Response       []byte
	DurationMS     int64
}

// EngineParams collects the engine's dependencies.
type EngineParams struct {
	Estimator costEstimator
	Credits   creditGate
	Provider  Provider
	Parser    usageParser
	Pricing   pricingResolver
	Usage     usageRecorder
	Logger    *logger.Logger
	Config    config.MeteringConfig
}

type engine struct {
	estimator costEstimator
	credits   creditGate
	provider  Provider
	parser    usageParser
	pricing   pricingResolver
	usage     usageRecorder
	logg      *logger.Logger
	cfg       config.MeteringConfig
}

// NewEngine builds the metering engine.
func NewEngine(params EngineParams) (Engine, error) {
	if params.Estimator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cost estimator required")
	}
	if params.Credits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credit service required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "provider required")
	}
	if params.Parser == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage parser required")
	}
	if params.Pricing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pricing service required")
	}
	if params.Usage == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage recorder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &engine{
		estimator: params.Estimator,
		credits:   params.Credits,
		provider:  params.Provider,
		parser:    params.Parser,
		pricing:   params.Pricing,
		usage:     params.Usage,
		logg:      params.Logger,
		cfg:       params.Config,
	}, nil
}

func (e *engine) Execute(ctx context.Context, input ExecuteInput) (*Result, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.RequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	if input.ProviderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	if input.ModelID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "model id required")
	}
	requestType := input.RequestType
	if requestType == "" {
		requestType = enums.RequestTypeCompletion
	}
	if !requestType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid request type")
	}
	if input.EstInputTokens < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "estimated input tokens cannot be negative")
	}

	required, err := e.estimator.EstimateCredits(ctx, input.UserID, input.ProviderID, input.ModelID, input.EstInputTokens, input.MaxOutputTokens)
	if err != nil {
		return nil, err
	}
	gate, err := e.credits.ValidateSufficientCredits(ctx, input.UserID, required)
	if err != nil {
		return nil, err
	}
	if !gate.Sufficient {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientCreds, "insufficient credits for estimated usage").WithDetails(map[string]interface{}{
			"requiredCredits": required,
			"currentBalance":  gate.CurrentBalance,
			"shortfall":       gate.Shortfall,
			"suggestions":     gate.Suggestions,
		})
	}

	started := time.Now()
	resp, vendorErr := e.provider.Invoke(ctx, ProviderRequest{
		ProviderID: input.ProviderID,
		ModelID:    input.ModelID,
		Payload:    input.Payload,
	})
	durationMS := time.Since(started).Milliseconds()
	if vendorErr != nil {
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"provider_id": input.ProviderID,
			"model_id":    input.ModelID,
			"request_id":  input.RequestID,
		}), "vendor call failed")
		e.recordFailure(ctx, input, requestType, usage.TokenUsage{}, durationMS, vendorErr)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, vendorErr, "vendor call failed")
	}

	tokens, err := e.parser.Parse(ctx, resp.Body, input.ProviderID)
	if err != nil {
		e.recordFailure(ctx, input, requestType, tokens, durationMS, err)
		return nil, err
	}

	price, err := e.pricing.Resolve(ctx, input.ProviderID, input.ModelID, input.UserID)
	if pkgerrors.IsCode(err, pkgerrors.CodePricingNotFound) {
		price, err = e.pricing.FallbackFor(ctx, input.UserID)
	}
	if err != nil {
		// The vendor call already succeeded, so the usage itself is kept
		// for audit even though it cannot be charged right now.
		e.recordFailure(ctx, input, requestType, tokens, durationMS, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve pricing for completed call")
	}

	cost := costs.VendorCost(tokens, price)
	charged := costs.CreditsFromCost(cost, price.MarginMultiplier)
	margin := costs.GrossMargin(cost, price.MarginMultiplier)

	record := &models.UsageRecord{
		ID:               uuid.New(),
		UserID:           input.UserID,
		RequestID:        input.RequestID,
		RequestType:      requestType,
		ProviderID:       input.ProviderID,
		ModelID:          input.ModelID,
		InputTokens:      tokens.InputTokens,
		OutputTokens:     tokens.OutputTokens,
		CachedTokens:     tokens.CachedInputTokens,
		TotalTokens:      tokens.TotalTokens,
		VendorCost:       cost,
		CreditsDeducted:  charged,
		MarginMultiplier: price.MarginMultiplier,
		GrossMargin:      margin,
		DurationMS:       durationMS,
		Status:           enums.UsageStatusSuccess,
	}
	if err := e.usage.Record(ctx, record); err != nil {
		return nil, err
	}

	result := &Result{
		UsageRecordID:  record.ID,
		Usage:          tokens,
		VendorCost:     cost,
		CreditsCharged: charged,
		Response:       resp.Body,
		DurationMS:     durationMS,
	}
	if charged == 0 {
		// Free usage stays in history but never touches the ledger.
		return result, nil
	}

	deducted, err := e.credits.Deduct(ctx, credits.DeductInput{
		UserID:           input.UserID,
		Credits:          charged,
		RequestID:        input.RequestID,
		VendorCost:       cost,
		MarginMultiplier: price.MarginMultiplier,
		GrossMargin:      margin,
		ProviderID:       input.ProviderID,
		ModelID:          input.ModelID,
		Reason:           enums.LedgerReasonAPICompletion,
		UsageRecord:      record,
	})
	if err != nil {
		return nil, err
	}

	entryID := deducted.EntryID
	balance := deducted.BalanceAfter
	result.LedgerEntryID = &entryID
	result.BalanceAfter = &balance
	return result, nil
}

// recordFailure appends a failed usage row. Recording is best effort here:
// the caller is already returning the primary error and must not lose it to
// a secondary insert failure.
func (e *engine) recordFailure(ctx context.Context, input ExecuteInput, requestType enums.RequestType, tokens usage.TokenUsage, durationMS int64, cause error) {
	msg := cause.Error()
	record := &models.UsageRecord{
		ID:           uuid.New(),
		UserID:       input.UserID,
		RequestID:    input.RequestID,
		RequestType:  requestType,
		ProviderID:   input.ProviderID,
		ModelID:      input.ModelID,
		InputTokens:  tokens.InputTokens,
		OutputTokens: tokens.OutputTokens,
		CachedTokens: tokens.CachedInputTokens,
		TotalTokens:  tokens.TotalTokens,
		DurationMS:   durationMS,
		Status:       enums.UsageStatusFailed,
		ErrorMessage: &msg,
	}
	if err := e.usage.Record(ctx, record); err != nil {
		e.logg.Error(ctx, "record failed usage", err)
	}
}
