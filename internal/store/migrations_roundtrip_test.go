package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resetSchema(ctx, t, db)

	ups, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	applied, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if len(applied) != len(ups) {
		t.Fatalf("expected %d versions applied, got %v", len(ups), applied)
	}
	requireTables(ctx, t, db, true)

	again, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected recorded migrations to be skipped, got %v", again)
	}

	downs, err := migrationFiles(migrationsDir, ".down.sql")
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	for i := len(downs) - 1; i >= 0; i-- {
		contents, err := os.ReadFile(downs[i])
		if err != nil {
			t.Fatalf("read %s: %v", downs[i], err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("run %s: %v", filepath.Base(downs[i]), err)
		}
	}
	requireTables(ctx, t, db, false)

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations after rollback: %v", err)
	}
	requireTables(ctx, t, db, true)
}

func requireTables(ctx context.Context, t *testing.T, db *sql.DB, present bool) {
	t.Helper()
	for _, table := range []string{"users", "folders", "boards", "sections", "cards", "follows"} {
		var name sql.NullString
		if err := db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, "public."+table).Scan(&name); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if name.Valid != present {
			t.Fatalf("table %s present=%v, want %v", table, name.Valid, present)
		}
	}
}

func resetSchema(ctx context.Context, t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
}

// openTestDB connects to PINBOARD_TEST_DATABASE_URL or skips the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("PINBOARD_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PINBOARD_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
