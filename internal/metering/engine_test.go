package metering

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
	"github.com/scribeflow/scribeflow-backend/pkg/config"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/metrics"
)

type stubEstimator struct {
	required  int64
	err       error
	estTokens []int64
	ceilings  []int64
}

func (s *stubEstimator) EstimateCredits(_ context.Context, _ uuid.UUID, _, _ string, estInputTokens, outputCeiling int64) (int64, error) {
	s.estTokens = append(s.estTokens, estInputTokens)
	s.ceilings = append(s.ceilings, outputCeiling)
	if s.err != nil {
		return 0, s.err
	}
	return s.required, nil
}

type stubGate struct {
	gate      *credits.GateResult
	gateErr   error
	gateReq   []int64
	deductIn  []credits.DeductInput
	deductRes *credits.DeductResult
	deductErr error
}

func (s *stubGate) ValidateSufficientCredits(_ context.Context, _ uuid.UUID, requiredCredits int64) (*credits.GateResult, error) {
	s.gateReq = append(s.gateReq, requiredCredits)
	if s.gateErr != nil {
		return nil, s.gateErr
	}
	return s.gate, nil
}

func (s *stubGate) Deduct(_ context.Context, input credits.DeductInput) (*credits.DeductResult, error) {
	s.deductIn = append(s.deductIn, input)
	if s.deductErr != nil {
		return nil, s.deductErr
	}
	return s.deductRes, nil
}

// countingProvider fails the test of any path that reaches the vendor when
// it should not: calls is asserted directly.
type countingProvider struct {
	calls int
	body  []byte
	err   error
}

func (p *countingProvider) Invoke(_ context.Context, _ ProviderRequest) (*ProviderResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &ProviderResponse{Body: p.body}, nil
}

type stubParser struct {
	tokens usage.TokenUsage
	err    error
}

func (s *stubParser) Parse(_ context.Context, _ []byte, _ string) (usage.TokenUsage, error) {
	if s.err != nil {
		return usage.TokenUsage{}, s.err
	}
	return s.tokens, nil
}

type stubResolver struct {
	price         pricing.Pricing
	err           error
	fallback      pricing.Pricing
	fallbackErr   error
	fallbackCalls int
}

func (s *stubResolver) Resolve(_ context.Context, _, _ string, _ uuid.UUID) (pricing.Pricing, error) {
	if s.err != nil {
		return pricing.Pricing{}, s.err
	}
	return s.price, nil
}

func (s *stubResolver) FallbackFor(_ context.Context, _ uuid.UUID) (pricing.Pricing, error) {
	s.fallbackCalls++
	if s.fallbackErr != nil {
		return pricing.Pricing{}, s.fallbackErr
	}
	return s.fallback, nil
}

type stubRecorder struct {
	records []*models.UsageRecord
	err     error
}

func (s *stubRecorder) Record(_ context.Context, record *models.UsageRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

type engineFixture struct {
	estimator *stubEstimator
	gate      *stubGate
	provider  *countingProvider
	parser    *stubParser
	resolver  *stubResolver
	recorder  *stubRecorder
	engine    Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		estimator: &stubEstimator{required: 200},
		gate:      &stubGate{gate: &credits.GateResult{Sufficient: true, CurrentBalance: 1000}},
		provider: &countingProvider{
			body: []byte(`{"usage":{"prompt_tokens":80,"completion_tokens":40,"total_tokens":120}}`),
		},
		parser: &stubParser{tokens: usage.TokenUsage{InputTokens: 80, OutputTokens: 40, TotalTokens: 120}},
		resolver: &stubResolver{
			price: pricing.Pricing{
				InputPerMillion:  decimal.NewFromInt(2),
				OutputPerMillion: decimal.NewFromInt(6),
				MarginMultiplier: decimal.NewFromInt(5),
			},
		},
		recorder: &stubRecorder{},
	}
	f.gate.deductRes = &credits.DeductResult{EntryID: uuid.New(), BalanceBefore: 1000, BalanceAfter: 999}

	eng, err := NewEngine(EngineParams{
		Estimator: f.estimator,
		Credits:   f.gate,
		Provider:  f.provider,
		Parser:    f.parser,
		Pricing:   f.resolver,
		Usage:     f.recorder,
		Logger:    logger.New(logger.Options{Output: io.Discard}),
		Config:    config.MeteringConfig{SafetyMarginPct: 15, DefaultOutputCeiling: 4096},
	})
	require.NoError(t, err)
	f.engine = eng
	return f
}

func meterInput(userID uuid.UUID) ExecuteInput {
	return ExecuteInput{
		UserID:         userID,
		RequestID:      "req-1",
		RequestType:    enums.RequestTypeChat,
		ProviderID:     "openai",
		ModelID:        "gpt-5",
		Payload:        []byte(`{"messages":[]}`),
		EstInputTokens: 500,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()

	result, err := f.engine.Execute(context.Background(), meterInput(userID))
	require.NoError(t, err)
	require.NotNil(t, result)

	// 80 input at $2/M plus 40 output at $6/M is $0.0004; times the 5x
	// multiplier and 100 credits per dollar that rounds up to 1 credit.
	assert.EqualValues(t, 1, result.CreditsCharged)
	assert.True(t, result.VendorCost.Equal(decimal.RequireFromString("0.0004")),
		"vendor cost %s", result.VendorCost)
	require.NotNil(t, result.LedgerEntryID)
	assert.Equal(t, f.gate.deductRes.EntryID, *result.LedgerEntryID)
	require.NotNil(t, result.BalanceAfter)
	assert.EqualValues(t, 999, *result.BalanceAfter)
	assert.Equal(t, f.provider.body, result.Response)

	assert.Equal(t, 1, f.provider.calls)
	assert.Equal(t, []int64{500}, f.estimator.estTokens)
	assert.Equal(t, []int64{200}, f.gate.gateReq)

	require.Len(t, f.recorder.records, 1)
	record := f.recorder.records[0]
	assert.Equal(t, result.UsageRecordID, record.ID)
	assert.Equal(t, userID, record.UserID)
	assert.Equal(t, "req-1", record.RequestID)
	assert.Equal(t, enums.UsageStatusSuccess, record.Status)
	assert.EqualValues(t, 80, record.InputTokens)
	assert.EqualValues(t, 40, record.OutputTokens)
	assert.EqualValues(t, 1, record.CreditsDeducted)
	assert.True(t, record.GrossMargin.Equal(decimal.RequireFromString("0.0016")),
		"gross margin %s", record.GrossMargin)

	require.Len(t, f.gate.deductIn, 1)
	deduct := f.gate.deductIn[0]
	assert.Equal(t, userID, deduct.UserID)
	assert.EqualValues(t, 1, deduct.Credits)
	assert.Equal(t, "req-1", deduct.RequestID)
	assert.Equal(t, enums.LedgerReasonAPICompletion, deduct.Reason)
	assert.Same(t, record, deduct.UsageRecord)
}

// The same flow with the real parser on a real OpenAI-shaped body, proving
// the parser plugs into the engine without adapters.
func TestExecuteChargesRealOpenAIShape(t *testing.T) {
	f := newEngineFixture(t)
	parser, err := usage.NewParser(logger.New(logger.Options{Output: io.Discard}), metrics.NewLedgerMetrics(nil))
	require.NoError(t, err)

	eng, err := NewEngine(EngineParams{
		Estimator: f.estimator,
		Credits:   f.gate,
		Provider:  f.provider,
		Parser:    parser,
		Pricing:   f.resolver,
		Usage:     f.recorder,
		Logger:    logger.New(logger.Options{Output: io.Discard}),
		Config:    config.MeteringConfig{SafetyMarginPct: 15, DefaultOutputCeiling: 4096},
	})
	require.NoError(t, err)

	result, err := eng.Execute(context.Background(), meterInput(uuid.New()))
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.CreditsCharged)
	assert.EqualValues(t, 120, result.Usage.TotalTokens)
}

func TestExecuteGateDeniedBeforeVendorCall(t *testing.T) {
	f := newEngineFixture(t)
	f.gate.gate = &credits.GateResult{
		Sufficient:     false,
		CurrentBalance: 10,
		Shortfall:      190,
		Suggestions:    []string{"purchase at least 190 additional credits"},
	}

	_, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeInsufficientCreds, appErr.Code())

	details, ok := appErr.Details().(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 190, details["shortfall"])

	assert.Zero(t, f.provider.calls)
	assert.Empty(t, f.recorder.records)
	assert.Empty(t, f.gate.deductIn)
}

func TestExecuteVendorFailureRecordsFailedUsage(t *testing.T) {
	f := newEngineFixture(t)
	f.provider.err = errors.New("upstream timeout")

	_, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	require.Len(t, f.recorder.records, 1)
	record := f.recorder.records[0]
	assert.Equal(t, enums.UsageStatusFailed, record.Status)
	assert.Zero(t, record.InputTokens)
	assert.Zero(t, record.CreditsDeducted)
	require.NotNil(t, record.ErrorMessage)
	assert.Contains(t, *record.ErrorMessage, "upstream timeout")

	assert.Empty(t, f.gate.deductIn)
}

func TestExecuteUnrecognizedUsageNotCharged(t *testing.T) {
	f := newEngineFixture(t)
	f.parser.err = pkgerrors.New(pkgerrors.CodeUnrecognizedUsage, "usage format not recognized")

	_, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnrecognizedUsage))

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, enums.UsageStatusFailed, f.recorder.records[0].Status)
	assert.Empty(t, f.gate.deductIn)
}

func TestExecuteFallsBackWhenPricingUnknown(t *testing.T) {
	f := newEngineFixture(t)
	f.resolver.err = pkgerrors.New(pkgerrors.CodePricingNotFound, "no active pricing")
	f.resolver.fallback = pricing.Fallback()

	result, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, 1, f.resolver.fallbackCalls)
	assert.Positive(t, result.CreditsCharged)
}

func TestExecutePricingDependencyFailureKeepsUsage(t *testing.T) {
	f := newEngineFixture(t)
	f.resolver.err = pkgerrors.New(pkgerrors.CodeDependency, "pricing store unreachable")

	_, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Zero(t, f.resolver.fallbackCalls)

	require.Len(t, f.recorder.records, 1)
	record := f.recorder.records[0]
	assert.Equal(t, enums.UsageStatusFailed, record.Status)
	assert.EqualValues(t, 80, record.InputTokens)
	assert.Empty(t, f.gate.deductIn)
}

func TestExecuteZeroCreditUsageSkipsLedger(t *testing.T) {
	f := newEngineFixture(t)
	f.parser.tokens = usage.TokenUsage{}

	result, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.NoError(t, err)
	assert.Zero(t, result.CreditsCharged)
	assert.Nil(t, result.LedgerEntryID)
	assert.Nil(t, result.BalanceAfter)

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, enums.UsageStatusSuccess, f.recorder.records[0].Status)
	assert.Empty(t, f.gate.deductIn)
}

// The gate can pass and the debit still lose the race for the last credits;
// the usage row must survive the rejection.
func TestExecuteDeductFailureSurfacesAfterRecording(t *testing.T) {
	f := newEngineFixture(t)
	f.gate.deductErr = pkgerrors.New(pkgerrors.CodeInsufficientCreds, "insufficient credit balance")

	_, err := f.engine.Execute(context.Background(), meterInput(uuid.New()))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCreds))
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, enums.UsageStatusSuccess, f.recorder.records[0].Status)
}

func TestExecuteDefaultsRequestType(t *testing.T) {
	f := newEngineFixture(t)
	input := meterInput(uuid.New())
	input.RequestType = ""

	_, err := f.engine.Execute(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, enums.RequestTypeCompletion, f.recorder.records[0].RequestType)
}

func TestExecuteValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ExecuteInput)
	}{
		{"missing user", func(in *ExecuteInput) { in.UserID = uuid.Nil }},
		{"missing request id", func(in *ExecuteInput) { in.RequestID = "" }},
		{"missing provider", func(in *ExecuteInput) { in.ProviderID = "" }},
		{"missing model", func(in *ExecuteInput) { in.ModelID = "" }},
		{"unknown request type", func(in *ExecuteInput) { in.RequestType = "poetry" }},
		{"negative estimate", func(in *ExecuteInput) { in.EstInputTokens = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t)
			input := meterInput(uuid.New())
			tc.mutate(&input)

			_, err := f.engine.Execute(context.Background(), input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
			assert.Zero(t, f.provider.calls)
		})
	}
}

func TestNewEngineValidatesDependencies(t *testing.T) {
	f := newEngineFixture(t)
	base := func() EngineParams {
		return EngineParams{
			Estimator: f.estimator,
			Credits:   f.gate,
			Provider:  f.provider,
			Parser:    f.parser,
			Pricing:   f.resolver,
			Usage:     f.recorder,
			Logger:    logger.New(logger.Options{Output: io.Discard}),
			Config:    config.MeteringConfig{SafetyMarginPct: 15, DefaultOutputCeiling: 4096},
		}
	}

	cases := []struct {
		name   string
		mutate func(*EngineParams)
	}{
		{"missing estimator", func(p *EngineParams) { p.Estimator = nil }},
		{"missing credits", func(p *EngineParams) { p.Credits = nil }},
		{"missing provider", func(p *EngineParams) { p.Provider = nil }},
		{"missing parser", func(p *EngineParams) { p.Parser = nil }},
		{"missing pricing", func(p *EngineParams) { p.Pricing = nil }},
		{"missing usage", func(p *EngineParams) { p.Usage = nil }},
		{"missing logger", func(p *EngineParams) { p.Logger = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base()
			tc.mutate(&params)
			_, err := NewEngine(params)
			require.Error(t, err)
		})
	}
}
