package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/repository"
)

var (
	// ErrInvalidEmail indicates an empty or malformed email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrEmptyPassword indicates an empty password.
	ErrEmptyPassword = errors.New("password must not be empty")
)

// CredentialRepository is the persistence the store needs.
type CredentialRepository interface {
	GetCredentialByEmail(ctx context.Context, email string) (*model.UserCredential, error)
	CreateCredential(ctx context.Context, cred *model.UserCredential) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

// CredentialStore stores and checks end-user passwords.
// Safe for concurrent use.
type CredentialStore struct {
	repo   CredentialRepository
	logger *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(repo CredentialRepository, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// SetPassword creates the credential for email or replaces its hash.
func (s *CredentialStore) SetPassword(ctx context.Context, email, password string) (*model.UserCredential, error) {
	email = model.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()

	existing, err := s.repo.GetCredentialByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.repo.UpdatePasswordHash(ctx, existing.ID, hash, now); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
		existing.PasswordHash = hash
		existing.UpdatedAt = now
		s.logger.Info("password changed", slog.String("credential_id", existing.ID))
		return existing, nil
	case !errors.Is(err, repository.ErrCredentialNotFound):
		return nil, fmt.Errorf("get credential: %w", err)
	}

	cred := &model.UserCredential{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	s.logger.Info("credential created", slog.String("credential_id", cred.ID))
	return cred, nil
}

// CheckPassword reports whether password matches cred. A malformed stored
// hash counts as a mismatch.
func (s *CredentialStore) CheckPassword(cred *model.UserCredential, password string) bool {
	if cred == nil || password == "" {
		return false
	}
	ok, err := VerifyPassword(password, cred.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable",
			slog.String("credential_id", cred.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

// Authenticate looks up email and checks password. Unknown email and wrong
// password both return (nil, false, nil); only storage failures error.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (*model.UserCredential, bool, error) {
	email = model.NormalizeEmail(email)

	cred, err := s.repo.GetCredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			// Pay the hashing cost anyway.
			_, _ = VerifyPassword(password, s.dummy())
			s.logger.Info("authentication failed", slog.String("reason", "unknown_email"))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get credential: %w", err)
	}

	if !s.CheckPassword(cred, password) {
		s.logger.Info("authentication failed",
			slog.String("reason", "password_mismatch"),
			slog.String("credential_id", cred.ID),
		)
		return nil, false, nil
	}

	if NeedsRehash(cred.PasswordHash) {
		s.rehash(ctx, cred, password)
	}
	return cred, true, nil
}

func (s *CredentialStore) rehash(ctx context.Context, cred *model.UserCredential, password string) {
	hash, err := HashPassword(password)
	if err != nil {
		s.logger.Warn("rehash failed", slog.String("credential_id", cred.ID), slog.String("error", err.Error()))
		return
	}
	now := s.now().UTC()
	if err := s.repo.UpdatePasswordHash(ctx, cred.ID, hash, now); err != nil {
		s.logger.Warn("rehash failed", slog.String("credential_id", cred.ID), slog.String("error", err.Error()))
		return
	}
	cred.PasswordHash = hash
	cred.UpdatedAt = now
	s.logger.Info("password hash upgraded", slog.String("credential_id", cred.ID))
}

func (s *CredentialStore) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := HashPassword("dummy-password-for-timing")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
