package pricing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow-backend/pkg/db/models"
)

func setupPricingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS model_pricing (
  id TEXT PRIMARY KEY,
  provider_id TEXT NOT NULL,
  model_id TEXT NOT NULL,
  aliases TEXT,
  input_price_per_million NUMERIC NOT NULL,
  output_price_per_million NUMERIC NOT NULL,
  cached_input_price_per_million NUMERIC,
  margin_override NUMERIC,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedPricing(t *testing.T, db *gorm.DB, provider, model string, active bool, aliases ...string) models.ModelPricing {
	t.Helper()
	row := models.ModelPricing{
		ID:                    uuid.New(),
		ProviderID:            provider,
		ModelID:               model,
		Aliases:               pq.StringArray(aliases),
		InputPricePerMillion:  decimal.RequireFromString("2.50"),
		OutputPricePerMillion: decimal.RequireFromString("10.00"),
		Active:                active,
	}
	require.NoError(t, db.Create(&row).Error)
	return row
}

func TestListActiveByProviderFiltersInactiveAndOthers(t *testing.T) {
	db := setupPricingTestDB(t)
	repo := NewRepository(db)

	seedPricing(t, db, "openai", "gpt-4o", true)
	seedPricing(t, db, "openai", "gpt-3.5-turbo", false)
	seedPricing(t, db, "anthropic", "claude-sonnet-4", true)

	rows, err := repo.ListActiveByProvider(context.Background(), "openai")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gpt-4o", rows[0].ModelID)
}

func TestAliasesRoundTrip(t *testing.T) {
	db := setupPricingTestDB(t)
	repo := NewRepository(db)

	seedPricing(t, db, "openai", "gpt-4o", true, "gpt-4o-2024-11-20", "gpt-4o-latest")

	rows, err := repo.ListActiveByProvider(context.Background(), "openai")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, pq.StringArray{"gpt-4o-2024-11-20", "gpt-4o-latest"}, rows[0].Aliases)
}

func TestListActiveSpansProviders(t *testing.T) {
	db := setupPricingTestDB(t)
	repo := NewRepository(db)

	seedPricing(t, db, "anthropic", "claude-sonnet-4", true)
	seedPricing(t, db, "google", "gemini-2.0-flash", true)
	seedPricing(t, db, "google", "gemini-legacy", false)

	rows, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "anthropic", rows[0].ProviderID)
	assert.Equal(t, "google", rows[1].ProviderID)
}
