package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
	"github.com/scribeflow/scribeflow-backend/pkg/enums"
	"github.com/scribeflow/scribeflow-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	db := setupOutboxTestDB(t)
	service := NewService(NewRepository(db), nil)

	entryID := uuid.New()
	userID := uuid.New()
	actorID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventCreditDeducted,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entryID,
		Actor:         &ActorRef{UserID: &actorID, Role: "system"},
		Version:       1,
		Data: payloads.CreditDeductedEvent{
			LedgerEntryID: entryID,
			UserID:        userID,
			RequestID:     "req-1",
			Credits:       50,
			BalanceAfter:  950,
			Reason:        enums.LedgerReasonAPICompletion,
			VendorCost:    decimal.RequireFromString("0.0832"),
		},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return service.Emit(context.Background(), tx, event)
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, enums.EventCreditDeducted, row.EventType)
	assert.Equal(t, enums.AggregateLedgerEntry, row.AggregateType)
	assert.Equal(t, entryID, row.AggregateID)
	assert.Nil(t, row.PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "system", envelope.Actor.Role)

	var decoded payloads.CreditDeductedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &decoded))
	assert.Equal(t, int64(50), decoded.Credits)
	assert.Equal(t, int64(950), decoded.BalanceAfter)
	assert.Equal(t, userID, decoded.UserID)
	assert.True(t, decimal.RequireFromString("0.0832").Equal(decoded.VendorCost))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := setupOutboxTestDB(t)
	service := NewService(NewRepository(db), nil)

	event := DomainEvent{
		EventType:     enums.EventCreditGranted,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   uuid.New(),
		Version:       1,
		Data:          payloads.CreditGrantedEvent{Credits: 500},
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := service.Emit(context.Background(), tx, event); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRequiresTransaction(t *testing.T) {
	service := NewService(NewRepository(nil), nil)
	err := service.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}
