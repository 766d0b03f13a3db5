//go:build integration

package migrate

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trustline/trustline/internal/testutil"
)

// ============================================================================
// Migration Integration Tests
// ============================================================================

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, pool, runner := newMigrationTestEnv(t)

	if err := runner.Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	for _, table := range []string{"auth_users", "organizations", "org_members"} {
		t.Run(table, func(t *testing.T) {
			var exists bool
			err := pool.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_schema = 'public'
					AND table_name = $1
				)
			`, table).Scan(&exists)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_DownAndUpAgain(t *testing.T) {
	ctx, _, runner := newMigrationTestEnv(t)

	if err := runner.DownTo(ctx, 0); err != nil {
		t.Fatalf("DownTo(0) error = %v", err)
	}
	if err := runner.Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	statuses, err := runner.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("%s should be applied", s.Path)
		}
	}
}

func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool, *Runner) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	runner, err := Open(ctx, dbURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open runner: %v", err)
	}
	t.Cleanup(func() { _ = runner.Close() })

	return ctx, pool, runner
}
