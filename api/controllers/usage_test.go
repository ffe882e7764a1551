package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
)

type testUsageService struct {
	recordFn  func(ctx context.Context, record *models.UsageRecord) error
	historyFn func(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.UsageRecord, string, error)
	summaryFn func(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error)
}

func (s *testUsageService) Record(ctx context.Context, record *models.UsageRecord) error {
	if s.recordFn != nil {
		return s.recordFn(ctx, record)
	}
	return nil
}

func (s *testUsageService) GetHistory(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.UsageRecord, string, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, userID, params)
	}
	return nil, "", nil
}

func (s *testUsageService) GetDailySummary(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, userID, day)
	}
	return &models.DailyUsageSummary{UserID: userID, UsageDate: day}, nil
}

func TestUsageHistoryReturnsRecords(t *testing.T) {
	userID := uuid.New()
	recordID := uuid.New()
	svc := &testUsageService{
		historyFn: func(ctx context.Context, uid uuid.UUID, params pagination.Params) ([]models.UsageRecord, string, error) {
			if uid != userID {
				t.Fatalf("unexpected user %s", uid)
			}
			if params.Limit != pagination.DefaultLimit {
				t.Fatalf("expected default limit got %d", params.Limit)
			}
			record := models.UsageRecord{
				ID:              recordID,
				UserID:          userID,
				RequestID:       "req-9",
				RequestType:     enums.RequestTypeCompletion,
				ProviderID:      "anthropic",
				ModelID:         "claude-sonnet",
				InputTokens:     900,
				OutputTokens:    210,
				TotalTokens:     1110,
				VendorCost:      decimal.RequireFromString("0.012345"),
				CreditsDeducted: 5,
				Status:          enums.UsageStatusSuccess,
			}
			return []models.UsageRecord{record}, "", nil
		},
	}

	resp := httptest.NewRecorder()
	UsageHistory(svc, testLogger())(resp, authedRequest(http.MethodGet, "/api/v1/usage/history", "", userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data struct {
			Items []usageRecordResponse `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Items) != 1 {
		t.Fatalf("expected one record got %d", len(envelope.Data.Items))
	}
	got := envelope.Data.Items[0]
	if got.ID != recordID || got.CreditsDeducted != 5 || got.Status != string(enums.UsageStatusSuccess) {
		t.Fatalf("unexpected record payload %+v", got)
	}
	if !got.VendorCost.Equal(decimal.RequireFromString("0.012345")) {
		t.Fatalf("vendor cost mangled: %s", got.VendorCost)
	}
}

func TestUsageHistoryMissingActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage/history", nil)
	resp := httptest.NewRecorder()
	UsageHistory(&testUsageService{}, testLogger())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestUsageDailySummaryDefaultsToToday(t *testing.T) {
	userID := uuid.New()
	var gotDay time.Time
	svc := &testUsageService{
		summaryFn: func(ctx context.Context, uid uuid.UUID, day time.Time) (*models.DailyUsageSummary, error) {
			gotDay = day
			return &models.DailyUsageSummary{UserID: uid, UsageDate: day}, nil
		},
	}

	resp := httptest.NewRecorder()
	UsageDailySummary(svc, testLogger())(resp, authedRequest(http.MethodGet, "/api/v1/usage/daily-summary", "", userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	now := time.Now().UTC()
	wantDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !gotDay.Equal(wantDay) {
		t.Fatalf("expected today %s got %s", wantDay, gotDay)
	}
}

func TestUsageDailySummaryParsesDate(t *testing.T) {
	userID := uuid.New()
	svc := &testUsageService{
		summaryFn: func(ctx context.Context, uid uuid.UUID, day time.Time) (*models.DailyUsageSummary, error) {
			want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			if !day.Equal(want) {
				t.Fatalf("expected %s got %s", want, day)
			}
			return &models.DailyUsageSummary{
				UserID:               uid,
				UsageDate:            day,
				TotalRequests:        14,
				TotalInputTokens:     9000,
				TotalOutputTokens:    2100,
				TotalVendorCost:      decimal.RequireFromString("0.42"),
				TotalCreditsDeducted: 180,
			}, nil
		},
	}

	resp := httptest.NewRecorder()
	UsageDailySummary(svc, testLogger())(resp, authedRequest(http.MethodGet, "/api/v1/usage/daily-summary?date=2026-02-01", "", userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data dailySummaryResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.UsageDate != "2026-02-01" {
		t.Fatalf("unexpected usage date %q", envelope.Data.UsageDate)
	}
	if envelope.Data.TotalRequests != 14 || envelope.Data.TotalCreditsDeducted != 180 {
		t.Fatalf("unexpected summary payload %+v", envelope.Data)
	}
}

func TestUsageDailySummaryRejectsBadDate(t *testing.T) {
	resp := httptest.NewRecorder()
	UsageDailySummary(&testUsageService{}, testLogger())(resp, authedRequest(http.MethodGet, "/api/v1/usage/daily-summary?date=02-01-2026", "", uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
