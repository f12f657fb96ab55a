package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"create_orders": {
			"CREATE TABLE IF NOT EXISTS orders",
			"coins_debited boolean NOT NULL DEFAULT false",
			"stock_deducted boolean NOT NULL DEFAULT false",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_order_timeline_order_sequence",
			"DROP TABLE IF EXISTS orders",
		},
		"create_payments": {
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_id",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_provider_intent_id",
			"CHECK (status IN ('PENDING', 'SUCCESS', 'FAILED', 'REFUNDED'))",
		},
		"create_jobs": {
			"CREATE INDEX IF NOT EXISTS idx_jobs_queue_claim ON jobs (queue, status, run_at)",
			"CHECK (backoff_type IN ('none', 'fixed', 'exponential'))",
		},
		"create_coin_ledger_entries": {
			"CHECK (amount <> 0)",
			"BEFORE UPDATE OR DELETE ON coin_ledger_entries",
		},
		"create_users": {
			"CHECK (coin_balance >= 0)",
		},
		"add_orders_coin_debit_failed_at": {
			"ADD COLUMN IF NOT EXISTS coin_debit_failed_at timestamptz NULL",
			"DROP COLUMN IF EXISTS coin_debit_failed_at",
		},
		"create_outbox": {
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_dlq_event_id",
		},
	}

	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestValidateDirAcceptsRepoMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to fail")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_no_down.sql"), []byte("-- +goose Up\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected missing down section to fail")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Columns!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_refund_columns.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected empty sanitized name to fail")
	}
}

func TestEmbeddedSourceMatchesRepoMigrations(t *testing.T) {
	fsys, err := migrate.Source(migrate.DefaultDir)
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	if err := migrate.ValidateFS(fsys); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	embedded, err := migrate.LatestVersion(fsys)
	if err != nil {
		t.Fatalf("latest embedded: %v", err)
	}
	onDisk, err := migrate.LatestVersion(os.DirFS("migrations"))
	if err != nil {
		t.Fatalf("latest on disk: %v", err)
	}
	if embedded == "" || embedded != onDisk {
		t.Fatalf("embedded latest %q, on disk %q", embedded, onDisk)
	}
}

func TestValidateDirRejectsBrokenAnnotations(t *testing.T) {
	cases := map[string]string{
		"down before up":   "-- +goose Down\nDROP TABLE x;\n-- +goose Up\nCREATE TABLE x (id int);\n",
		"unclosed block":   "-- +goose Up\n-- +goose StatementBegin\nCREATE TABLE x (id int);\n-- +goose Down\nDROP TABLE x;\n",
		"stray end":        "-- +goose Up\nCREATE TABLE x (id int);\n-- +goose StatementEnd\n-- +goose Down\nDROP TABLE x;\n",
		"empty up section": "-- +goose Up\n-- nothing yet\n-- +goose Down\nDROP TABLE x;\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "20260101000000_case.sql"), []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := migrate.ValidateDir(dir); err == nil {
				t.Fatalf("expected %s to fail validation", name)
			}
		})
	}
}

func TestSourceRejectsMissingDir(t *testing.T) {
	if _, err := migrate.Source(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected missing dir to fail")
	}
}
