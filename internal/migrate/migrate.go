// Package migrate applies the embedded SQL schema with goose.
//
// Both services share one migration history; each only touches its own
// tables, so a split deployment can run the full set against either database.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/lib/pq" // database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the embedded migration files rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		// Only fails if the embed pattern above is wrong.
		panic(err)
	}
	return sub
}

// Runner applies migrations to one database.
type Runner struct {
	db       *sql.DB
	provider *goose.Provider
	logger   *slog.Logger
}

// Open connects to databaseURL and prepares a Runner. Close it when done.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}

	return &Runner{db: db, provider: provider, logger: logger}, nil
}

// Close releases the database handle.
func (r *Runner) Close() error {
	return r.db.Close()
}

// Up applies all pending migrations.
func (r *Runner) Up(ctx context.Context) error {
	results, err := r.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	for _, res := range results {
		r.logger.Info("migration applied",
			slog.String("source", res.Source.Path),
			slog.Duration("duration", res.Duration),
		)
	}
	return nil
}

// DownTo rolls back to version. DownTo(ctx, 0) removes every table.
func (r *Runner) DownTo(ctx context.Context, version int64) error {
	results, err := r.provider.DownTo(ctx, version)
	if err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	for _, res := range results {
		r.logger.Info("migration rolled back", slog.String("source", res.Source.Path))
	}
	return nil
}

// Status describes one migration for display.
type Status struct {
	Path    string
	Applied bool
}

// Status lists every known migration and whether it is applied.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate status: %w", err)
	}
	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Status{Path: s.Source.Path, Applied: s.State == goose.StateApplied})
	}
	return out, nil
}

// Version returns the current schema version.
func (r *Runner) Version(ctx context.Context) (int64, error) {
	v, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate version: %w", err)
	}
	return v, nil
}

// Up is a convenience for startup auto-migration.
func Up(ctx context.Context, databaseURL string, logger *slog.Logger) error {
	r, err := Open(ctx, databaseURL, logger)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Up(ctx)
}
