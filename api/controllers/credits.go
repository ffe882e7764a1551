package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/api/middleware"
	"github.com/scribeflow/scribeflow-backend/api/responses"
	"github.com/scribeflow/scribeflow-backend/api/validators"
	"github.com/scribeflow/scribeflow-backend/internal/costs"
	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
	"github.com/scribeflow/scribeflow-backend/pkg/types"
)

// CreditBalance returns the caller's current credit balance.
func CreditBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		userID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"user_id": userID,
			"balance": balance,
		})
	}
}

type validateCreditsRequest struct {
	ProviderID           string `json:"provider_id" validate:"required"`
	ModelID              string `json:"model_id" validate:"required"`
	EstimatedInputTokens int64  `json:"estimated_input_tokens" validate:"min=0"`
	MaxOutputTokens      int64  `json:"max_output_tokens" validate:"min=0"`
}

type validateCreditsResponse struct {
	Sufficient      bool     `json:"sufficient"`
	RequiredCredits int64    `json:"required_credits"`
	CurrentBalance  int64    `json:"current_balance"`
	Shortfall       int64    `json:"shortfall"`
	Suggestions     []string `json:"suggestions,omitempty"`
}

// CreditValidate runs the pre-flight gate: estimate the worst-case charge
// for the described request and check the balance covers it. Purely
// advisory; nothing is reserved.
func CreditValidate(est costs.Estimator, svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if est == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "metering services unavailable"))
			return
		}

		userID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req validateCreditsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		required, err := est.EstimateCredits(r.Context(), userID, req.ProviderID, req.ModelID, req.EstimatedInputTokens, req.MaxOutputTokens)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gate, err := svc.ValidateSufficientCredits(r.Context(), userID, required)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, validateCreditsResponse{
			Sufficient:      gate.Sufficient,
			RequiredCredits: required,
			CurrentBalance:  gate.CurrentBalance,
			Shortfall:       gate.Shortfall,
			Suggestions:     gate.Suggestions,
		})
	}
}

// CreditHistory returns the caller's ledger entries, newest first.
func CreditHistory(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		userID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := historyParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, nextCursor, err := svc.GetHistory(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]ledgerEntryResponse, 0, len(entries))
		for i := range entries {
			items = append(items, toLedgerEntryResponse(&entries[i]))
		}
		responses.WriteSuccess(w, types.Page{Items: items, NextCursor: nextCursor})
	}
}

type ledgerEntryResponse struct {
	ID               uuid.UUID       `json:"id"`
	Amount           int64           `json:"amount"`
	BalanceBefore    int64           `json:"balance_before"`
	BalanceAfter     int64           `json:"balance_after"`
	RequestID        string          `json:"request_id"`
	VendorCost       decimal.Decimal `json:"vendor_cost"`
	MarginMultiplier decimal.Decimal `json:"margin_multiplier"`
	GrossMargin      decimal.Decimal `json:"gross_margin"`
	Reason           string          `json:"reason"`
	Status           string          `json:"status"`
	Description      *string         `json:"description,omitempty"`
	ReversedAt       *time.Time      `json:"reversed_at,omitempty"`
	ReversalReason   *string         `json:"reversal_reason,omitempty"`
	ReversalEntryID  *uuid.UUID      `json:"reversal_entry_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func toLedgerEntryResponse(entry *models.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:               entry.ID,
		Amount:           entry.Amount,
		BalanceBefore:    entry.BalanceBefore,
		BalanceAfter:     entry.BalanceAfter,
		RequestID:        entry.RequestID,
		VendorCost:       entry.VendorCost,
		MarginMultiplier: entry.MarginMultiplier,
		GrossMargin:      entry.GrossMargin,
		Reason:           string(entry.Reason),
		Status:           string(entry.Status),
		Description:      entry.Description,
		ReversedAt:       entry.ReversedAt,
		ReversalReason:   entry.ReversalReason,
		ReversalEntryID:  entry.ReversalEntryID,
		CreatedAt:        entry.CreatedAt,
	}
}

// actorUserID resolves the authenticated caller into a uuid.
func actorUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor identity")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid actor identity")
	}
	return userID, nil
}

// historyParams reads the shared cursor/limit/range query surface used by
// both history endpoints.
func historyParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return pagination.Params{}, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
		Range:  pagination.Range{From: from, To: to},
	}, nil
}
