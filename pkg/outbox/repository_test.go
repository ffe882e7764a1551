package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// One connection so every statement sees the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	outboxEvents := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	outboxDLQs := `
CREATE TABLE IF NOT EXISTS outbox_dlqs (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(outboxEvents).Error)
	require.NoError(t, db.Exec(outboxDLQs).Error)
	return db
}

func newOutboxRow(t *testing.T, createdAt time.Time, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventCreditDeducted,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
		CreatedAt:     createdAt,
		AttemptCount:  attempts,
	}
}

func TestFetchUnpublishedForPublishOrdersAndFilters(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	base := time.Now().Add(-time.Hour)
	oldest := newOutboxRow(t, base, 0)
	newer := newOutboxRow(t, base.Add(time.Minute), 0)
	exhausted := newOutboxRow(t, base.Add(2*time.Minute), 10)
	published := newOutboxRow(t, base.Add(3*time.Minute), 0)
	now := time.Now()
	published.PublishedAt = &now

	for _, row := range []models.OutboxEvent{newer, oldest, exhausted, published} {
		require.NoError(t, db.Create(&row).Error)
	}

	var fetched []models.OutboxEvent
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		fetched, txErr = repo.FetchUnpublishedForPublish(tx, 10, 10)
		return txErr
	})
	require.NoError(t, err)

	require.Len(t, fetched, 2)
	assert.Equal(t, oldest.ID, fetched[0].ID)
	assert.Equal(t, newer.ID, fetched[1].ID)
}

func TestMarkFailedTxIncrementsAttempts(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	row := newOutboxRow(t, time.Now(), 0)
	require.NoError(t, db.Create(&row).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, row.ID, errors.New("publish timeout"))
	})
	require.NoError(t, err)

	var reloaded models.OutboxEvent
	require.NoError(t, db.Where("id = ?", row.ID).First(&reloaded).Error)
	assert.Equal(t, 1, reloaded.AttemptCount)
	require.NotNil(t, reloaded.LastError)
	assert.Equal(t, "publish timeout", *reloaded.LastError)
	assert.Nil(t, reloaded.PublishedAt)
}

func TestMarkTerminalTxExcludesFromFetch(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	row := newOutboxRow(t, time.Now(), 1)
	require.NoError(t, db.Create(&row).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, row.ID, errors.New("unsupported event type"), 10)
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		fetched, txErr := repo.FetchUnpublishedForPublish(tx, 10, 10)
		if txErr != nil {
			return txErr
		}
		assert.Empty(t, fetched)
		return nil
	})
	require.NoError(t, err)
}

func TestMarkPublishedTxStampsTimestamp(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	row := newOutboxRow(t, time.Now(), 0)
	require.NoError(t, db.Create(&row).Error)

	err := db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, row.ID)
	})
	require.NoError(t, err)

	var reloaded models.OutboxEvent
	require.NoError(t, db.Where("id = ?", row.ID).First(&reloaded).Error)
	require.NotNil(t, reloaded.PublishedAt)
}

func TestDeletePublishedBeforePrunesOnlyPublished(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	oldPublished := newOutboxRow(t, time.Now().Add(-72*time.Hour), 0)
	oldStamp := time.Now().Add(-48 * time.Hour)
	oldPublished.PublishedAt = &oldStamp

	recentPublished := newOutboxRow(t, time.Now().Add(-time.Hour), 0)
	recentStamp := time.Now().Add(-30 * time.Minute)
	recentPublished.PublishedAt = &recentStamp

	pending := newOutboxRow(t, time.Now().Add(-96*time.Hour), 3)

	for _, row := range []models.OutboxEvent{oldPublished, recentPublished, pending} {
		require.NoError(t, db.Create(&row).Error)
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)

	var keptPending models.OutboxEvent
	require.NoError(t, db.Where("id = ?", pending.ID).First(&keptPending).Error)
}
