// Package registry provisions organization members. Email is unique across
// every organization, including under concurrent creation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trustline/trustline/internal/metrics"
	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/repository"
)

var (
	ErrInvalidInput         = errors.New("email and name are required")
	ErrInvalidRole          = errors.New("role must be one of admin, member, viewer")
	ErrDuplicateEmail       = errors.New("a user with this email already exists")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMemberNotFound       = errors.New("member not found")
)

// Store is the persistence the registry needs. WithEmailLock must run fn
// as one unit of work under a lock exclusive to email.
type Store interface {
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetMemberByEmail(ctx context.Context, email string) (*model.OrgMember, error)
	WithEmailLock(ctx context.Context, email string, fn func(ctx context.Context, tx repository.MemberTx) error) error
}

// CreateMemberInput is the request to add a member to an organization.
type CreateMemberInput struct {
	OrgID string
	Email string
	Name  string
	Role  string
}

// Registry creates and looks up organization members.
type Registry struct {
	store   Store
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Registry.
func New(store Store, recorder metrics.Recorder, logger *slog.Logger) *Registry {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, metrics: recorder, logger: logger, now: time.Now}
}

// CreateMember adds a member. At most one of any set of concurrent calls
// for the same normalized email succeeds; the rest get ErrDuplicateEmail.
func (r *Registry) CreateMember(ctx context.Context, in CreateMemberInput) (*model.OrgMember, error) {
	m, err := r.createMember(ctx, in)
	r.metrics.IncMemberCreate(createOutcome(err))
	return m, err
}

func (r *Registry) createMember(ctx context.Context, in CreateMemberInput) (*model.OrgMember, error) {
	email := model.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	role := strings.TrimSpace(in.Role)

	if email == "" || name == "" {
		return nil, ErrInvalidInput
	}
	if !model.IsValidRole(role) {
		return nil, ErrInvalidRole
	}

	// Non-UUID ids can never match a row.
	parsed, err := uuid.Parse(in.OrgID)
	if err != nil {
		return nil, ErrOrganizationNotFound
	}
	orgID := parsed.String()
	if _, err := r.store.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, repository.ErrOrganizationNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}

	now := r.now().UTC()
	member := &model.OrgMember{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Role:      role,
		OrgID:     orgID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.store.WithEmailLock(ctx, email, func(ctx context.Context, tx repository.MemberTx) error {
		exists, err := tx.MemberExists(ctx, email)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEmail
		}
		return tx.InsertMember(ctx, member)
	})
	if err != nil {
		return nil, r.mapCreateError(err, member)
	}

	r.logger.Info("member created",
		slog.String("user_id", member.ID),
		slog.String("org_id", member.OrgID),
		slog.String("role", member.Role),
	)
	return member, nil
}

func (r *Registry) mapCreateError(err error, member *model.OrgMember) error {
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		r.logger.Info("member rejected", slog.String("reason", "duplicate_email"), slog.String("org_id", member.OrgID))
		return ErrDuplicateEmail
	case errors.Is(err, repository.ErrEmailExists):
		// The unique constraint caught what the lock did not.
		r.logger.Warn("member rejected by unique constraint", slog.String("org_id", member.OrgID))
		return ErrDuplicateEmail
	case errors.Is(err, repository.ErrOrganizationNotFound):
		return ErrOrganizationNotFound
	default:
		return fmt.Errorf("create member: %w", err)
	}
}

func createOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidRole):
		return "invalid"
	case errors.Is(err, ErrOrganizationNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// LookupMember returns the member registered under email.
func (r *Registry) LookupMember(ctx context.Context, email string) (*model.OrgMember, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, ErrMemberNotFound
	}

	m, err := r.store.GetMemberByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("lookup member: %w", err)
	}
	return m, nil
}
