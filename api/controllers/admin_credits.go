package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/api/middleware"
	"github.com/scribeflow/scribeflow-backend/api/responses"
	"github.com/scribeflow/scribeflow-backend/api/validators"
	"github.com/scribeflow/scribeflow-backend/internal/credits"
	"github.com/scribeflow/scribeflow-backend/internal/pricing"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
)

// Admin notes end up in ledger rows; keep them short enough to index.
const maxAdminNoteLen = 500

type adminGrantRequest struct {
	UserID  uuid.UUID `json:"user_id" validate:"required"`
	Credits int64     `json:"credits" validate:"required,gt=0"`
	Note    *string   `json:"note"`
}

type adminAdjustRequest struct {
	UserID  uuid.UUID `json:"user_id" validate:"required"`
	Credits int64     `json:"credits" validate:"required"`
	Note    *string   `json:"note"`
}

type adminReverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type ledgerMutationResponse struct {
	EntryID       uuid.UUID `json:"entry_id"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
}

// AdminCreditGrant adds credits to a user's balance as a manual adjustment.
// The ledger request id is derived from the Idempotency-Key header, so a
// replay past the Redis window still lands on the ledger's uniqueness check.
func AdminCreditGrant(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		actorID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			r = r.WithContext(logg.WithActorID(r.Context(), actorID.String()))
		}
		requestID, err := ledgerRequestID(r, "admin-grant")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminGrantRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Grant(r.Context(), credits.GrantInput{
			UserID:    req.UserID,
			Credits:   req.Credits,
			RequestID: requestID,
			Reason:    enums.LedgerReasonManualAdjustment,
			ActorID:   &actorID,
			Note:      sanitizeNote(req.Note),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ledgerMutationResponse{
			EntryID:       result.EntryID,
			BalanceBefore: result.BalanceBefore,
			BalanceAfter:  result.BalanceAfter,
		})
	}
}

// AdminCreditAdjust moves a user's balance by a signed amount: positive
// grants, negative debits. Negative adjustments observe the same
// insufficiency rules as metered debits, so a balance cannot be pushed
// below zero.
func AdminCreditAdjust(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		actorID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			r = r.WithContext(logg.WithActorID(r.Context(), actorID.String()))
		}
		requestID, err := ledgerRequestID(r, "admin-adjust")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminAdjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		note := sanitizeNote(req.Note)
		var entryID uuid.UUID
		var before, after int64
		if req.Credits > 0 {
			result, grantErr := svc.Grant(r.Context(), credits.GrantInput{
				UserID:    req.UserID,
				Credits:   req.Credits,
				RequestID: requestID,
				Reason:    enums.LedgerReasonManualAdjustment,
				ActorID:   &actorID,
				Note:      note,
			})
			if grantErr != nil {
				responses.WriteError(r.Context(), logg, w, grantErr)
				return
			}
			entryID, before, after = result.EntryID, result.BalanceBefore, result.BalanceAfter
		} else {
			result, deductErr := svc.Deduct(r.Context(), credits.DeductInput{
				UserID:      req.UserID,
				Credits:     -req.Credits,
				RequestID:   requestID,
				Reason:      enums.LedgerReasonManualAdjustment,
				Description: note,
				ActorID:     &actorID,
			})
			if deductErr != nil {
				responses.WriteError(r.Context(), logg, w, deductErr)
				return
			}
			entryID, before, after = result.EntryID, result.BalanceBefore, result.BalanceAfter
		}

		responses.WriteSuccess(w, ledgerMutationResponse{
			EntryID:       entryID,
			BalanceBefore: before,
			BalanceAfter:  after,
		})
	}
}

// AdminLedgerReverse undoes a completed ledger entry with a compensating
// entry. Reversing twice reports ALREADY_REVERSED rather than double-paying.
func AdminLedgerReverse(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		actorID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			r = r.WithContext(logg.WithActorID(r.Context(), actorID.String()))
		}

		rawEntryID := strings.TrimSpace(chi.URLParam(r, "entryId"))
		if rawEntryID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "entry id is required"))
			return
		}
		entryID, err := uuid.Parse(rawEntryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id"))
			return
		}

		var req adminReverseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Reverse(r.Context(), credits.ReverseInput{
			EntryID:    entryID,
			Reason:     validators.SanitizeString(req.Reason, maxAdminNoteLen),
			ReversedBy: actorID,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"entry_id": entryID,
			"status":   "reversed",
		})
	}
}

type pricingRowResponse struct {
	ID                         uuid.UUID        `json:"id"`
	ProviderID                 string           `json:"provider_id"`
	ModelID                    string           `json:"model_id"`
	Aliases                    []string         `json:"aliases"`
	InputPricePerMillion       decimal.Decimal  `json:"input_price_per_million"`
	OutputPricePerMillion      decimal.Decimal  `json:"output_price_per_million"`
	CachedInputPricePerMillion *decimal.Decimal `json:"cached_input_price_per_million,omitempty"`
	MarginOverride             *decimal.Decimal `json:"margin_override,omitempty"`
	Active                     bool             `json:"active"`
	UpdatedAt                  time.Time        `json:"updated_at"`
}

// AdminPricingList returns every active pricing row so operators can audit
// what the resolver will charge against.
func AdminPricingList(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pricing service unavailable"))
			return
		}

		rows, err := svc.ListActive(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]pricingRowResponse, 0, len(rows))
		for i := range rows {
			row := &rows[i]
			items = append(items, pricingRowResponse{
				ID:                         row.ID,
				ProviderID:                 row.ProviderID,
				ModelID:                    row.ModelID,
				Aliases:                    append([]string{}, row.Aliases...),
				InputPricePerMillion:       row.InputPricePerMillion,
				OutputPricePerMillion:      row.OutputPricePerMillion,
				CachedInputPricePerMillion: row.CachedInputPricePerMillion,
				MarginOverride:             row.MarginOverride,
				Active:                     row.Active,
				UpdatedAt:                  row.UpdatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// ledgerRequestID namespaces the client's Idempotency-Key per admin
// operation so the same key on grant and adjust cannot collide in the
// ledger's request_id column.
func ledgerRequestID(r *http.Request, op string) (string, error) {
	key := strings.TrimSpace(r.Header.Get(middleware.HeaderIdempotencyKey))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	return op + ":" + key, nil
}

func sanitizeNote(note *string) *string {
	if note == nil {
		return nil
	}
	cleaned := validators.SanitizeString(*note, maxAdminNoteLen)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
