package usage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/metrics"
)

// TokenUsage is the normalized token-count record extracted from a vendor
// response body. CachedInputTokens is the portion of InputTokens served from
// the provider's prompt cache.
type TokenUsage struct {
	InputTokens       int64
	OutputTokens      int64
	CachedInputTokens int64
	TotalTokens       int64
}

// Parser normalizes the usage block of raw vendor responses. Each provider
// reports token counts under different field names; anything the parser does
// not positively recognize is rejected with zero tokens rather than guessed
// at, because a silently zeroed parse would record a paid request as free.
type Parser struct {
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// NewParser builds a parser that logs and counts every rejected payload.
func NewParser(logg *logger.Logger, m *metrics.LedgerMetrics) (*Parser, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Parser{logg: logg, metrics: m}, nil
}

// openAIUsage matches the usage object on chat and completions responses.
// prompt_tokens already includes cached_tokens.
type openAIUsage struct {
	Usage *struct {
		PromptTokens        *int64 `json:"prompt_tokens"`
		CompletionTokens    *int64 `json:"completion_tokens"`
		TotalTokens         int64  `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int64 `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// anthropicUsage matches the usage object on messages responses. input_tokens
// excludes cache reads, so they are folded back in during normalization to
// keep cached input a subset of input.
type anthropicUsage struct {
	Usage *struct {
		InputTokens          *int64 `json:"input_tokens"`
		OutputTokens         *int64 `json:"output_tokens"`
		CacheReadInputTokens int64  `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// geminiUsage matches the usageMetadata object on generateContent responses.
// promptTokenCount already includes cachedContentTokenCount.
type geminiUsage struct {
	UsageMetadata *struct {
		PromptTokenCount        *int64 `json:"promptTokenCount"`
		CandidatesTokenCount    int64  `json:"candidatesTokenCount"`
		TotalTokenCount         int64  `json:"totalTokenCount"`
		CachedContentTokenCount int64  `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
}

// Parse extracts token usage from a raw vendor response body. The provider
// selects the expected layout; a payload missing that layout's token fields
// fails with CodeUnrecognizedUsage, a warn log, and a parse-failure metric.
func (p *Parser) Parse(ctx context.Context, raw []byte, providerID string) (TokenUsage, error) {
	if len(raw) == 0 {
		return TokenUsage{}, p.reject(ctx, providerID, "empty response body")
	}

	var (
		usage TokenUsage
		ok    bool
	)
	switch enums.Provider(providerID) {
	case enums.ProviderOpenAI:
		usage, ok = parseOpenAI(raw)
	case enums.ProviderAnthropic:
		usage, ok = parseAnthropic(raw)
	case enums.ProviderGoogle:
		usage, ok = parseGemini(raw)
	default:
		return TokenUsage{}, p.reject(ctx, providerID, "unsupported provider")
	}
	if !ok {
		return TokenUsage{}, p.reject(ctx, providerID, "no recognizable usage block")
	}
	return usage, nil
}

func (p *Parser) reject(ctx context.Context, providerID, detail string) error {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"provider": providerID,
		"detail":   detail,
	})
	p.logg.Warn(ctx, "vendor usage payload not recognized")
	p.metrics.IncParseFailure(providerID)
	return pkgerrors.New(pkgerrors.CodeUnrecognizedUsage,
		fmt.Sprintf("usage format not recognized for provider %q: %s", providerID, detail))
}

func parseOpenAI(raw []byte) (TokenUsage, bool) {
	var body openAIUsage
	if err := json.Unmarshal(raw, &body); err != nil || body.Usage == nil {
		return TokenUsage{}, false
	}
	u := body.Usage
	if u.PromptTokens == nil && u.CompletionTokens == nil {
		return TokenUsage{}, false
	}

	usage := TokenUsage{
		InputTokens:       valueOrZero(u.PromptTokens),
		OutputTokens:      valueOrZero(u.CompletionTokens),
		CachedInputTokens: u.PromptTokensDetails.CachedTokens,
		TotalTokens:       u.TotalTokens,
	}
	return normalize(usage), true
}

func parseAnthropic(raw []byte) (TokenUsage, bool) {
	var body anthropicUsage
	if err := json.Unmarshal(raw, &body); err != nil || body.Usage == nil {
		return TokenUsage{}, false
	}
	u := body.Usage
	if u.InputTokens == nil && u.OutputTokens == nil {
		return TokenUsage{}, false
	}

	usage := TokenUsage{
		InputTokens:       valueOrZero(u.InputTokens) + u.CacheReadInputTokens,
		OutputTokens:      valueOrZero(u.OutputTokens),
		CachedInputTokens: u.CacheReadInputTokens,
	}
	return normalize(usage), true
}

func parseGemini(raw []byte) (TokenUsage, bool) {
	var body geminiUsage
	if err := json.Unmarshal(raw, &body); err != nil || body.UsageMetadata == nil {
		return TokenUsage{}, false
	}
	u := body.UsageMetadata
	if u.PromptTokenCount == nil {
		return TokenUsage{}, false
	}

	usage := TokenUsage{
		InputTokens:       valueOrZero(u.PromptTokenCount),
		OutputTokens:      u.CandidatesTokenCount,
		CachedInputTokens: u.CachedContentTokenCount,
		TotalTokens:       u.TotalTokenCount,
	}
	return normalize(usage), true
}

// normalize clamps negative vendor counts, caps cached input at input, and
// derives the total when the vendor omits it.
func normalize(u TokenUsage) TokenUsage {
	if u.InputTokens < 0 {
		u.InputTokens = 0
	}
	if u.OutputTokens < 0 {
		u.OutputTokens = 0
	}
	if u.CachedInputTokens < 0 {
		u.CachedInputTokens = 0
	}
	if u.CachedInputTokens > u.InputTokens {
		u.CachedInputTokens = u.InputTokens
	}
	if u.TotalTokens < u.InputTokens+u.OutputTokens {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
