// Package login runs the login state machine: validate, authenticate,
// fetch the org record, mint a session token.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trustline/trustline/internal/metrics"
	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/orgclient"
)

// State is a step of the login flow.
type State string

// States in order. A rejected attempt reports the state it failed in.
const (
	StateStart                State = "start"
	StateCredentialsValidated State = "credentials_validated"
	StateAuthenticated        State = "authenticated"
	StateOrgInfoFetched       State = "org_info_fetched"
	StateTokenIssued          State = "token_issued"
)

// Rejection kinds. Match with errors.Is.
var (
	ErrBadRequest         = errors.New("email and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotProvisioned = errors.New("user not provisioned in organization service")
	ErrServiceUnavailable = errors.New("organization service unavailable")
	ErrInternal           = errors.New("internal error")
)

// RejectedError is the terminal outcome of a failed attempt.
type RejectedError struct {
	State  State
	Reason error
	cause  error
}

func (e *RejectedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("login rejected in %s: %v: %v", e.State, e.Reason, e.cause)
	}
	return fmt.Sprintf("login rejected in %s: %v", e.State, e.Reason)
}

// Is matches the rejection reason.
func (e *RejectedError) Is(target error) bool {
	return e.Reason == target
}

// Code returns the short machine-readable rejection reason.
func (e *RejectedError) Code() string {
	return reasonCode(e.Reason)
}

// Unwrap exposes the underlying cause for logging.
func (e *RejectedError) Unwrap() error {
	return e.cause
}

// Session is the outcome of a successful login.
type Session struct {
	Token string
	State State
}

// Authenticator checks end-user credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*model.UserCredential, bool, error)
}

// Directory returns the authoritative member record.
type Directory interface {
	LookupMember(ctx context.Context, email string) (*model.MemberInfo, error)
}

// Minter signs session tokens.
type Minter interface {
	Mint(email, subjectID, orgID, role string) (string, error)
}

// Service orchestrates logins. Each call runs the machine once, with no
// retries. Safe for concurrent use.
type Service struct {
	credentials Authenticator
	directory   Directory
	tokens      Minter
	metrics     metrics.Recorder
	logger      *slog.Logger
}

// NewService creates a login Service.
func NewService(credentials Authenticator, directory Directory, tokens Minter, recorder metrics.Recorder, logger *slog.Logger) *Service {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		credentials: credentials,
		directory:   directory,
		tokens:      tokens,
		metrics:     recorder,
		logger:      logger,
	}
}

// Login exchanges an email and password for a session token.
// Failures are *RejectedError.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	start := time.Now()
	s.logger.Info("login attempt started")

	session, err := s.run(ctx, email, password)
	s.metrics.ObserveLoginDuration(time.Since(start))

	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			attrs := []any{
				slog.String("state", string(rejected.State)),
				slog.String("reason", rejected.Code()),
				slog.Duration("duration", time.Since(start)),
			}
			if rejected.cause != nil {
				attrs = append(attrs, slog.String("error", rejected.cause.Error()))
			}
			s.metrics.IncLogin(rejected.Code())
			if rejected.Reason == ErrInternal || rejected.Reason == ErrServiceUnavailable {
				s.logger.Error("login rejected", attrs...)
			} else {
				s.logger.Warn("login rejected", attrs...)
			}
		}
		return nil, err
	}

	s.metrics.IncLogin("success")
	s.logger.Info("login succeeded",
		slog.String("state", string(session.State)),
		slog.Duration("duration", time.Since(start)),
	)
	return session, nil
}

func (s *Service) run(ctx context.Context, email, password string) (*Session, error) {
	state := StateStart
	if email == "" || password == "" {
		return nil, reject(state, ErrBadRequest, nil)
	}

	state = StateCredentialsValidated
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, reject(state, ErrBadRequest, nil)
	}

	cred, ok, err := s.credentials.Authenticate(ctx, email, password)
	if err != nil {
		return nil, reject(state, ErrInternal, err)
	}
	if !ok {
		return nil, reject(state, ErrInvalidCredentials, nil)
	}
	state = StateAuthenticated

	info, err := s.directory.LookupMember(ctx, cred.Email)
	if err != nil {
		if errors.Is(err, orgclient.ErrMemberNotFound) {
			return nil, reject(state, ErrUserNotProvisioned, nil)
		}
		return nil, reject(state, ErrServiceUnavailable, err)
	}
	state = StateOrgInfoFetched

	tok, err := s.tokens.Mint(cred.Email, info.UserID, info.OrgID, info.Role)
	if err != nil {
		return nil, reject(state, ErrInternal, err)
	}

	return &Session{Token: tok, State: StateTokenIssued}, nil
}

func reject(state State, reason, cause error) *RejectedError {
	return &RejectedError{State: state, Reason: reason, cause: cause}
}

func reasonCode(reason error) string {
	switch reason {
	case ErrBadRequest:
		return "bad_request"
	case ErrInvalidCredentials:
		return "invalid_credentials"
	case ErrUserNotProvisioned:
		return "user_not_provisioned"
	case ErrServiceUnavailable:
		return "service_unavailable"
	default:
		return "internal"
	}
}
