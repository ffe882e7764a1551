package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLedgerEntriesMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_ledger_entries.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS ledger_entries",
		"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		"CHECK (balance_before >= 0)",
		"CHECK (balance_after >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_request_id",
		"DROP TABLE IF EXISTS ledger_entries",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCreditBalancesMigrationEnforcesNonNegative(t *testing.T) {
	content := readMigration(t, "*_create_credit_balances.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS credit_balances",
		"CHECK (amount >= 0)",
		"DROP TABLE IF EXISTS credit_balances",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %q", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
