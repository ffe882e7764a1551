package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/api/responses"
	"github.com/scribeflow/scribeflow-backend/api/validators"
	"github.com/scribeflow/scribeflow-backend/internal/usage"
	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/logger"
	"github.com/scribeflow/scribeflow-backend/pkg/types"
)

// UsageHistory returns the caller's usage records, newest first.
func UsageHistory(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
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

		records, nextCursor, err := svc.GetHistory(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]usageRecordResponse, 0, len(records))
		for i := range records {
			items = append(items, toUsageRecordResponse(&records[i]))
		}
		responses.WriteSuccess(w, types.Page{Items: items, NextCursor: nextCursor})
	}
}

// UsageDailySummary returns the caller's aggregate usage for one UTC day.
// The date query param defaults to today; days with no usage come back
// zero-valued rather than 404.
func UsageDailySummary(svc usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		userID, err := actorUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		day, err := validators.ParseQueryDate(r, "date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if day == nil {
			now := time.Now().UTC()
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			day = &today
		}

		summary, err := svc.GetDailySummary(r.Context(), userID, *day)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toDailySummaryResponse(summary))
	}
}

type usageRecordResponse struct {
	ID              uuid.UUID       `json:"id"`
	RequestID       string          `json:"request_id"`
	RequestType     string          `json:"request_type"`
	ProviderID      string          `json:"provider_id"`
	ModelID         string          `json:"model_id"`
	InputTokens     int64           `json:"input_tokens"`
	OutputTokens    int64           `json:"output_tokens"`
	CachedTokens    int64           `json:"cached_tokens"`
	TotalTokens     int64           `json:"total_tokens"`
	VendorCost      decimal.Decimal `json:"vendor_cost"`
	CreditsDeducted int64           `json:"credits_deducted"`
	DurationMS      int64           `json:"duration_ms"`
	Status          string          `json:"status"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	LedgerEntryID   *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toUsageRecordResponse(record *models.UsageRecord) usageRecordResponse {
	return usageRecordResponse{
		ID:              record.ID,
		RequestID:       record.RequestID,
		RequestType:     string(record.RequestType),
		ProviderID:      record.ProviderID,
		ModelID:         record.ModelID,
		InputTokens:     record.InputTokens,
		OutputTokens:    record.OutputTokens,
		CachedTokens:    record.CachedTokens,
		TotalTokens:     record.TotalTokens,
		VendorCost:      record.VendorCost,
		CreditsDeducted: record.CreditsDeducted,
		DurationMS:      record.DurationMS,
		Status:          string(record.Status),
		ErrorMessage:    record.ErrorMessage,
		LedgerEntryID:   record.LedgerEntryID,
		CreatedAt:       record.CreatedAt,
	}
}

type dailySummaryResponse struct {
	UsageDate            string          `json:"usage_date"`
	TotalRequests        int64           `json:"total_requests"`
	TotalInputTokens     int64           `json:"total_input_tokens"`
	TotalOutputTokens    int64           `json:"total_output_tokens"`
	TotalCachedTokens    int64           `json:"total_cached_tokens"`
	TotalVendorCost      decimal.Decimal `json:"total_vendor_cost"`
	TotalCreditsDeducted int64           `json:"total_credits_deducted"`
}

func toDailySummaryResponse(summary *models.DailyUsageSummary) dailySummaryResponse {
	return dailySummaryResponse{
		UsageDate:            summary.UsageDate.UTC().Format("2006-01-02"),
		TotalRequests:        summary.TotalRequests,
		TotalInputTokens:     summary.TotalInputTokens,
		TotalOutputTokens:    summary.TotalOutputTokens,
		TotalCachedTokens:    summary.TotalCachedTokens,
		TotalVendorCost:      summary.TotalVendorCost,
		TotalCreditsDeducted: summary.TotalCreditsDeducted,
	}
}
