package migrate_test

import (
	"strings"
	"testing"
)

func TestModelPricingMigrationAndSeed(t *testing.T) {
	schema := readMigration(t, "*_create_model_pricing.sql")
	seed := readMigration(t, "*_seed_model_pricing.sql")

	schemaChecks := []string{
		"CREATE TABLE IF NOT EXISTS model_pricing",
		"CHECK (input_price_per_million > 0)",
		"CHECK (output_price_per_million > 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_model_pricing_provider_model",
		"DROP TABLE IF EXISTS model_pricing",
	}
	for _, sub := range schemaChecks {
		if !strings.Contains(schema, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}

	// The seed must cover all three launch providers and stay re-runnable.
	seedChecks := []string{
		"INSERT INTO model_pricing",
		"'openai'",
		"'anthropic'",
		"'google'",
		"gpt-4o",
		"claude-sonnet-4",
		"gemini-2.0-flash",
		"ON CONFLICT (provider_id, model_id) DO NOTHING",
	}
	for _, sub := range seedChecks {
		if !strings.Contains(seed, sub) {
			t.Errorf("missing expected seed content %q", sub)
		}
	}
}

func TestDailyUsageSummariesMigrationHasCompositeKey(t *testing.T) {
	content := readMigration(t, "*_create_daily_usage_summaries.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS daily_usage_summaries",
		"PRIMARY KEY (user_id, usage_date)",
		"DROP TABLE IF EXISTS daily_usage_summaries",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
