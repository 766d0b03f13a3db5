package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/trustline/trustline/internal/auth"
	"github.com/trustline/trustline/internal/handler/dto"
	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/registry"
)

// MemberRegistry is the member registry as seen by the handlers.
type MemberRegistry interface {
	CreateMember(ctx context.Context, in registry.CreateMemberInput) (*model.OrgMember, error)
	LookupMember(ctx context.Context, email string) (*model.OrgMember, error)
}

// MemberHandler handles HTTP requests for organization members.
type MemberHandler struct {
	registry MemberRegistry
	logger   *slog.Logger
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(reg MemberRegistry, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{
		registry: reg,
		logger:   logger,
	}
}

// Create handles POST /api/v1/organizations/{org_id}/users.
func (h *MemberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	member, err := h.registry.CreateMember(r.Context(), registry.CreateMemberInput{
		OrgID: chi.URLParam(r, "org_id"),
		Email: req.Email,
		Name:  req.Name,
		Role:  req.Role,
	})
	if err != nil {
		h.handleRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToCreateMemberResponse(member))
}

// Lookup handles GET /internal/users/{email}. Only reachable through the
// service auth middleware.
func (h *MemberHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustServiceFromContext(r.Context())

	email, err := emailParam(r)
	if err != nil {
		h.handleRegistryError(w, registry.ErrMemberNotFound)
		return
	}

	member, err := h.registry.LookupMember(r.Context(), email)
	if err != nil {
		h.handleRegistryError(w, err)
		return
	}

	h.logger.Debug("member lookup served",
		slog.String("service_id", caller),
		slog.String("org_id", member.OrgID),
	)

	writeJSON(w, http.StatusOK, member.Info())
}

// emailParam returns the {email} route value. chi matches on RawPath when
// the request carried escapes such as %2F, so the value is still escaped.
func emailParam(r *http.Request) (string, error) {
	email := chi.URLParam(r, "email")
	if r.URL.RawPath == "" {
		return email, nil
	}
	return url.PathUnescape(email)
}

// handleRegistryError maps registry errors to HTTP responses.
func (h *MemberHandler) handleRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "email and name are required")
	case errors.Is(err, registry.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "INVALID_ROLE", "role must be one of admin, member, viewer")
	case errors.Is(err, registry.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "EMAIL_EXISTS", "a user with this email already exists")
	case errors.Is(err, registry.ErrOrganizationNotFound):
		writeError(w, http.StatusNotFound, "ORGANIZATION_NOT_FOUND", "organization not found")
	case errors.Is(err, registry.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
