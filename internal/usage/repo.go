package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
)

// Repository persists usage records and their per-day rollups. Records are
// append-only: after insert the only permitted mutation is attaching the
// ledger entry id once the debit commits. The Tx-suffixed methods run inside
// the ledger's debit transaction and require its handle.
type Repository interface {
	Insert(ctx context.Context, record *models.UsageRecord) error
	ListByUser(ctx context.Context, params listUsageParams) ([]models.UsageRecord, *pagination.Cursor, error)
	AttachLedgerEntryTx(ctx context.Context, tx *gorm.DB, recordID, entryID uuid.UUID) error
	IncrementDailySummaryTx(ctx context.Context, tx *gorm.DB, record *models.UsageRecord) error
	FindDailySummary(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listUsageParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
	Range  pagination.Range
}

func (r *repository) Insert(ctx context.Context, record *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) ListByUser(ctx context.Context, params listUsageParams) ([]models.UsageRecord, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.UsageRecord{}).Where("user_id = ?", params.UserID)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}
	if params.Range.From != nil {
		query = query.Where("created_at >= ?", *params.Range.From)
	}
	if params.Range.To != nil {
		query = query.Where("created_at < ?", *params.Range.To)
	}

	var records []models.UsageRecord
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, nil, err
	}

	if len(records) > normalized {
		records = records[:normalized]
		// The cursor is the last row handed back: the next page resumes
		// strictly after it.
		last := records[len(records)-1]
		return records, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return records, nil, nil
}

// AttachLedgerEntryTx back-references the ledger entry on the usage record.
// It only fills an empty slot, never repoints a record at a second entry.
func (r *repository) AttachLedgerEntryTx(ctx context.Context, tx *gorm.DB, recordID, entryID uuid.UUID) error {
	result := tx.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("id = ? AND ledger_entry_id IS NULL", recordID).
		UpdateColumn("ledger_entry_id", entryID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementDailySummaryTx additively upserts the record's counters into the
// (user, day) rollup. Counters only move forward; the row is never
// read-modified-written.
func (r *repository) IncrementDailySummaryTx(ctx context.Context, tx *gorm.DB, record *models.UsageRecord) error {
	day := record.CreatedAt
	if day.IsZero() {
		day = time.Now()
	}
	summary := models.DailyUsageSummary{
		UserID:               record.UserID,
		UsageDate:            SummaryDay(day),
		TotalRequests:        1,
		TotalInputTokens:     record.InputTokens,
		TotalOutputTokens:    record.OutputTokens,
		TotalCachedTokens:    record.CachedTokens,
		TotalVendorCost:      record.VendorCost,
		TotalCreditsDeducted: record.CreditsDeducted,
		TotalGrossMargin:     record.GrossMargin,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "usage_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_requests":         gorm.Expr("daily_usage_summaries.total_requests + 1"),
			"total_input_tokens":     gorm.Expr("daily_usage_summaries.total_input_tokens + ?", record.InputTokens),
			"total_output_tokens":    gorm.Expr("daily_usage_summaries.total_output_tokens + ?", record.OutputTokens),
			"total_cached_tokens":    gorm.Expr("daily_usage_summaries.total_cached_tokens + ?", record.CachedTokens),
			"total_vendor_cost":      gorm.Expr("daily_usage_summaries.total_vendor_cost + ?", record.VendorCost),
			"total_credits_deducted": gorm.Expr("daily_usage_summaries.total_credits_deducted + ?", record.CreditsDeducted),
			"total_gross_margin":     gorm.Expr("daily_usage_summaries.total_gross_margin + ?", record.GrossMargin),
		}),
	}).Create(&summary).Error
}

func (r *repository) FindDailySummary(ctx context.Context, userID uuid.UUID, day time.Time) (*models.DailyUsageSummary, error) {
	var summary models.DailyUsageSummary
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND usage_date = ?", userID, SummaryDay(day)).
		First(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// SummaryDay truncates a timestamp to the UTC day bucket used by the
// daily_usage_summaries primary key.
func SummaryDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
