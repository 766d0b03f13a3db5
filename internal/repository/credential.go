package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trustline/trustline/internal/model"
)

// CreateCredential inserts a new login credential.
func (r *Repository) CreateCredential(ctx context.Context, cred *model.UserCredential) error {
	query := `
		INSERT INTO auth_users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		cred.ID,
		cred.Email,
		cred.PasswordHash,
		cred.CreatedAt,
		cred.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// GetCredentialByEmail retrieves a credential by its normalized email.
func (r *Repository) GetCredentialByEmail(ctx context.Context, email string) (*model.UserCredential, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM auth_users
		WHERE email = $1
	`

	var cred model.UserCredential
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&cred.ID,
		&cred.Email,
		&cred.PasswordHash,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential by email: %w", err)
	}

	return &cred, nil
}

// UpdatePasswordHash replaces the stored hash for a credential.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	query := `
		UPDATE auth_users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, passwordHash, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}

	return nil
}
