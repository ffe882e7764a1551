package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/api/responses"
	"github.com/scribeflow/scribeflow-backend/api/validators"
	"github.com/scribeflow/scribeflow-backend/internal/metering"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
)

type inferenceRequest struct {
	RequestID            string          `json:"request_id" validate:"required,max=128"`
	ProviderID           string          `json:"provider_id" validate:"required"`
	ModelID              string          `json:"model_id" validate:"required"`
	RequestType          string          `json:"request_type"`
	Payload              json.RawMessage `json:"payload" validate:"required"`
	EstimatedInputTokens int64           `json:"estimated_input_tokens" validate:"min=0"`
	MaxOutputTokens      int64           `json:"max_output_tokens" validate:"min=0"`
}

type inferenceResponse struct {
	RequestID      string          `json:"request_id"`
	UsageRecordID  uuid.UUID       `json:"usage_record_id"`
	LedgerEntryID  *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	CachedTokens   int64           `json:"cached_input_tokens"`
	TotalTokens    int64           `json:"total_tokens"`
	VendorCost     decimal.Decimal `json:"vendor_cost"`
	CreditsCharged int64           `json:"credits_charged"`
	BalanceAfter   *int64          `json:"balance_after,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	Response       json.RawMessage `json:"response"`
}

// InferenceExecute runs one metered inference call: gate on the caller's
// balance, forward the payload to the vendor, charge for the usage the
// vendor reports, and hand the vendor response back. The request_id is the
// ledger idempotency key; retrying with the same id cannot double-charge.
func InferenceExecute(engine metering.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "metering engine unavailable"))
			return
		}

		userID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req inferenceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := enums.ParseProvider(req.ProviderID); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported provider"))
			return
		}
		requestType := enums.RequestTypeCompletion
		if req.RequestType != "" {
			parsed, err := enums.ParseRequestType(req.RequestType)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported request type"))
				return
			}
			requestType = parsed
		}

		result, err := engine.Execute(r.Context(), metering.ExecuteInput{
			UserID:          userID,
			RequestID:       req.RequestID,
			RequestType:     requestType,
			ProviderID:      req.ProviderID,
			ModelID:         req.ModelID,
			Payload:         req.Payload,
			EstInputTokens:  req.EstimatedInputTokens,
			MaxOutputTokens: req.MaxOutputTokens,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, inferenceResponse{
			RequestID:      req.RequestID,
			UsageRecordID:  result.UsageRecordID,
			LedgerEntryID:  result.LedgerEntryID,
			InputTokens:    result.Usage.InputTokens,
			OutputTokens:   result.Usage.OutputTokens,
			CachedTokens:   result.Usage.CachedInputTokens,
			TotalTokens:    result.Usage.TotalTokens,
			VendorCost:     result.VendorCost,
			CreditsCharged: result.CreditsCharged,
			BalanceAfter:   result.BalanceAfter,
			DurationMS:     result.DurationMS,
			Response:       result.Response,
		})
	}
}
