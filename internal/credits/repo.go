package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	"github.com/scribeflow/scribeflow-backend/pkg/pagination"
)

// Repository owns credit_balances and ledger_entries persistence. Mutating
// methods run on a transaction handle obtained via WithTx; the balance row
// lock is what serializes ledger work for one user.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ConfigureTx(ctx context.Context, lockTimeout, statementTimeout time.Duration) error
	LockBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error)
	UpdateBalance(ctx context.Context, balance *models.CreditBalance) error
	FindBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindEntryByRequestID(ctx context.Context, requestID string) (*models.LedgerEntry, error)
	MarkEntryReversed(ctx context.Context, params reverseEntryParams) (bool, error)
	ListEntriesByUser(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error)
	ListEntriesChronological(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error)
	ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listEntriesParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
	Range  pagination.Range
}

type reverseEntryParams struct {
	EntryID         uuid.UUID
	ReversedBy      uuid.UUID
	Reason          string
	ReversalEntryID uuid.UUID
	At              time.Time
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ConfigureTx bounds lock waits and statement runtime for the current
// transaction. SET LOCAL is Postgres-only and resets at commit or rollback.
func (r *repository) ConfigureTx(ctx context.Context, lockTimeout, statementTimeout time.Duration) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	if lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
		if err := r.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	if statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", statementTimeout.Milliseconds())
		if err := r.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// LockBalance locks the user's balance row for the rest of the transaction,
// creating it at zero on first use.
func (r *repository) LockBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error) {
	seed := models.CreditBalance{UserID: userID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var balance models.CreditBalance
	if err := query.First(&balance, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) UpdateBalance(ctx context.Context, balance *models.CreditBalance) error {
	return r.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("user_id = ?", balance.UserID).
		Updates(map[string]interface{}{
			"amount":                balance.Amount,
			"last_deduction_at":     balance.LastDeductionAt,
			"last_deduction_amount": balance.LastDeductionAmount,
		}).Error
}

func (r *repository) FindBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	if err := r.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindEntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindEntryByRequestID returns nil without error when no entry carries the
// request id.
func (r *repository) FindEntryByRequestID(ctx context.Context, requestID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).First(&entry, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkEntryReversed flips a completed entry to reversed and stamps the
// reversal metadata. Returns false when the entry was not in completed
// state, leaving the row untouched.
func (r *repository) MarkEntryReversed(ctx context.Context, params reverseEntryParams) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ? AND status = ?", params.EntryID, enums.LedgerEntryStatusCompleted).
		Updates(map[string]interface{}{
			"status":            enums.LedgerEntryStatusReversed,
			"reversed_at":       params.At,
			"reversed_by":       params.ReversedBy,
			"reversal_reason":   params.Reason,
			"reversal_entry_id": params.ReversalEntryID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListEntriesByUser(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("user_id = ?", params.UserID)
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}
	if params.Range.From != nil {
		query = query.Where("created_at >= ?", *params.Range.From)
	}
	if params.Range.To != nil {
		query = query.Where("created_at < ?", *params.Range.To)
	}

	var entries []models.LedgerEntry
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	if len(entries) > normalized {
		entries = entries[:normalized]
		// The cursor is the last row handed back: the next page resumes
		// strictly after it.
		last := entries[len(entries)-1]
		return entries, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return entries, nil, nil
}

// ListEntriesChronological returns every entry for the user, oldest first,
// for the consistency chain walk.
func (r *repository) ListEntriesChronological(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ListActiveUserIDs returns the distinct users with ledger activity since
// the cutoff. The nightly audit walks exactly these chains.
func (r *repository) ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("created_at >= ?", since).
		Distinct("user_id").
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
