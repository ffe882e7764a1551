package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	pkgerrors "github.com/scribeflow/scribeflow-backend/pkg/errors"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
)

// Service records completed inference calls and serves usage reads. Debits
// happen elsewhere; the recorder appends history rows for successes and
// failures alike.
type Service interface {
	Record(ctx context.Context, record *models.UsageRecord) error
	GetHistory(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.UsageRecord, string, error)
	GetDailySummary(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error)
}

type service struct {
	repo Repository
}

// NewService builds a usage service with the required dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage repository required")
	}
	return &service{repo: repo}, nil
}

// Record appends one usage row. Failed vendor calls are recorded too, with
// status=failed and whatever counts the vendor returned before failing.
func (s *service) Record(ctx context.Context, record *models.UsageRecord) error {
	if record == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "usage record required")
	}
	if record.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if record.RequestID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "request id required")
	}
	if !record.RequestType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid request type")
	}
	if !record.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid usage status")
	}
	if record.InputTokens < 0 || record.OutputTokens < 0 || record.CachedTokens < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "token counts cannot be negative")
	}
	if record.VendorCost.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor cost cannot be negative")
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert usage record")
	}
	return nil
}

func (s *service) GetHistory(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.UsageRecord, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listUsageParams{
		UserID: userID,
		Limit:  params.Limit,
		Range:  params.Range,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	records, next, err := s.repo.ListByUser(ctx, query)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list usage records")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return records, cursor, nil
}

// GetDailySummary returns the rollup for one UTC day. A day with no usage
// yields a zero-valued summary rather than a not-found error.
func (s *service) GetDailySummary(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if day.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "summary day required")
	}

	summary, err := s.repo.FindDailySummary(ctx, userID, day)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DailyUsageSummary{UserID: userID, UsageDate: SummaryDay(day)}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load daily usage summary")
	}
	return summary, nil
}
