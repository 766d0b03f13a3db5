package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trustline/trustline/internal/model"
)

// MemberTx is the unit of work handed to WithEmailLock callbacks.
type MemberTx interface {
	MemberExists(ctx context.Context, email string) (bool, error)
	InsertMember(ctx context.Context, m *model.OrgMember) error
}

// WithEmailLock runs fn in a transaction holding an exclusive advisory lock
// scoped to email. The lock is released when the transaction ends; other
// emails never contend.
func (r *Repository) WithEmailLock(ctx context.Context, email string, fn func(ctx context.Context, tx MemberTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, email); err != nil {
		return fmt.Errorf("failed to acquire email lock: %w", err)
	}

	if err := fn(ctx, &pgMemberTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to commit member transaction: %w", err)
	}
	return nil
}

type pgMemberTx struct {
	tx pgx.Tx
}

func (t *pgMemberTx) MemberExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM org_members WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check member: %w", err)
	}
	return exists, nil
}

func (t *pgMemberTx) InsertMember(ctx context.Context, m *model.OrgMember) error {
	query := `
		INSERT INTO org_members (id, email, name, role, org_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := t.tx.Exec(ctx, query,
		m.ID,
		m.Email,
		m.Name,
		m.Role,
		m.OrgID,
		m.CreatedAt,
		m.UpdatedAt,
	)

	if err != nil {
		switch {
		case isUniqueViolation(err):
			return ErrEmailExists
		case isForeignKeyViolation(err):
			return ErrOrganizationNotFound
		}
		return fmt.Errorf("failed to insert member: %w", err)
	}

	return nil
}

// GetMemberByEmail retrieves a member by normalized email.
func (r *Repository) GetMemberByEmail(ctx context.Context, email string) (*model.OrgMember, error) {
	query := `
		SELECT id, email, name, role, org_id, created_at, updated_at
		FROM org_members
		WHERE email = $1
	`

	var m model.OrgMember
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&m.ID,
		&m.Email,
		&m.Name,
		&m.Role,
		&m.OrgID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member by email: %w", err)
	}

	return &m, nil
}

// CountMembersByEmail returns how many rows carry email. Used by tests and
// consistency checks; the unique constraint keeps it at most one.
func (r *Repository) CountMembersByEmail(ctx context.Context, email string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM org_members WHERE email = $1`, email).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}
