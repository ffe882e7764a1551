package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
)

type stubUsageRepo struct {
	insertCalls int

	insert           func(record *models.UsageRecord) error
	listByUser       func(params listUsageParams) ([]models.UsageRecord, *pagination.Cursor, error)
	findDailySummary func(userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error)
}

func (s *stubUsageRepo) Insert(_ context.Context, record *models.UsageRecord) error {
	s.insertCalls++
	if s.insert != nil {
		return s.insert(record)
	}
	return nil
}

func (s *stubUsageRepo) ListByUser(_ context.Context, params listUsageParams) ([]models.UsageRecord, *pagination.Cursor, error) {
	if s.listByUser != nil {
		return s.listByUser(params)
	}
	return nil, nil, nil
}

func (s *stubUsageRepo) AttachLedgerEntryTx(context.Context, *gorm.DB, uuid.UUID, uuid.UUID) error {
	panic("not implemented")
}

func (s *stubUsageRepo) IncrementDailySummaryTx(context.Context, *gorm.DB, *models.UsageRecord) error {
	panic("not implemented")
}

func (s *stubUsageRepo) FindDailySummary(_ context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error) {
	if s.findDailySummary != nil {
		return s.findDailySummary(userID, day)
	}
	return nil, gorm.ErrRecordNotFound
}

func validRecord() *models.UsageRecord {
	return &models.UsageRecord{
		UserID:           uuid.New(),
		RequestID:        "req-123",
		RequestType:      enums.RequestTypeChat,
		ProviderID:       "openai",
		ModelID:          "gpt-4o",
		InputTokens:      150,
		OutputTokens:     42,
		CachedTokens:     20,
		TotalTokens:      192,
		VendorCost:       decimal.RequireFromString("0.0004"),
		CreditsDeducted:  1,
		MarginMultiplier: decimal.RequireFromString("5"),
		Status:           enums.UsageStatusSuccess,
	}
}

func newTestUsageService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRecordInsertsRow(t *testing.T) {
	repo := &stubUsageRepo{}
	svc := newTestUsageService(t, repo)

	if err := svc.Record(context.Background(), validRecord()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if repo.insertCalls != 1 {
		t.Fatalf("insert calls = %d, want 1", repo.insertCalls)
	}
}

func TestRecordKeepsFailedCalls(t *testing.T) {
	repo := &stubUsageRepo{}
	svc := newTestUsageService(t, repo)

	record := validRecord()
	record.Status = enums.UsageStatusFailed
	msg := "vendor timeout"
	record.ErrorMessage = &msg
	record.CreditsDeducted = 0

	if err := svc.Record(context.Background(), record); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if repo.insertCalls != 1 {
		t.Fatalf("insert calls = %d, want 1", repo.insertCalls)
	}
}

func TestRecordValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(r *models.UsageRecord)
	}{
		{name: "missing user", mutate: func(r *models.UsageRecord) { r.UserID = uuid.Nil }},
		{name: "missing request id", mutate: func(r *models.UsageRecord) { r.RequestID = "" }},
		{name: "invalid request type", mutate: func(r *models.UsageRecord) { r.RequestType = "sketch" }},
		{name: "invalid status", mutate: func(r *models.UsageRecord) { r.Status = "pending" }},
		{name: "negative tokens", mutate: func(r *models.UsageRecord) { r.InputTokens = -1 }},
		{name: "negative cost", mutate: func(r *models.UsageRecord) { r.VendorCost = decimal.RequireFromString("-0.01") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubUsageRepo{}
			svc := newTestUsageService(t, repo)

			record := validRecord()
			tc.mutate(record)

			err := svc.Record(context.Background(), record)
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if repo.insertCalls != 0 {
				t.Fatalf("insert calls = %d, want 0", repo.insertCalls)
			}
		})
	}
}

func TestRecordNilRecord(t *testing.T) {
	svc := newTestUsageService(t, &stubUsageRepo{})

	err := svc.Record(context.Background(), nil)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetHistoryEncodesNextCursor(t *testing.T) {
	userID := uuid.New()
	next := pagination.Cursor{CreatedAt: time.Now().UTC(), ID: uuid.New()}
	repo := &stubUsageRepo{
		listByUser: func(params listUsageParams) ([]models.UsageRecord, *pagination.Cursor, error) {
			if params.UserID != userID {
				t.Fatalf("user id = %s, want %s", params.UserID, userID)
			}
			return []models.UsageRecord{{UserID: userID}}, &next, nil
		},
	}
	svc := newTestUsageService(t, repo)

	records, cursor, err := svc.GetHistory(context.Background(), userID, pagination.Params{Limit: 1})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if want := pagination.EncodeCursor(next); cursor != want {
		t.Fatalf("cursor = %q, want %q", cursor, want)
	}
}

func TestGetHistoryForwardsRange(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	var got listUsageParams
	repo := &stubUsageRepo{
		listByUser: func(params listUsageParams) ([]models.UsageRecord, *pagination.Cursor, error) {
			got = params
			return nil, nil, nil
		},
	}
	svc := newTestUsageService(t, repo)

	_, _, err := svc.GetHistory(context.Background(), uuid.New(), pagination.Params{
		Range: pagination.Range{From: &from, To: &to},
	})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if got.Range.From == nil || !got.Range.From.Equal(from) {
		t.Fatalf("range from = %v, want %v", got.Range.From, from)
	}
	if got.Range.To == nil || !got.Range.To.Equal(to) {
		t.Fatalf("range to = %v, want %v", got.Range.To, to)
	}
}

func TestGetHistoryRejectsBadCursor(t *testing.T) {
	svc := newTestUsageService(t, &stubUsageRepo{})

	_, _, err := svc.GetHistory(context.Background(), uuid.New(), pagination.Params{Cursor: "not-base64!!"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetDailySummaryZeroesMissingDay(t *testing.T) {
	userID := uuid.New()
	svc := newTestUsageService(t, &stubUsageRepo{})

	day := time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC)
	summary, err := svc.GetDailySummary(context.Background(), userID, day)
	if err != nil {
		t.Fatalf("GetDailySummary: %v", err)
	}
	if summary.UserID != userID {
		t.Fatalf("user id = %s, want %s", summary.UserID, userID)
	}
	if want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC); !summary.UsageDate.Equal(want) {
		t.Fatalf("usage date = %v, want %v", summary.UsageDate, want)
	}
	if summary.TotalRequests != 0 {
		t.Fatalf("total requests = %d, want 0", summary.TotalRequests)
	}
}

func TestGetDailySummaryRequiresUser(t *testing.T) {
	svc := newTestUsageService(t, &stubUsageRepo{})

	_, err := svc.GetDailySummary(context.Background(), uuid.Nil, time.Now())
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
