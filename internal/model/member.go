package model

import (
	"slices"
	"time"
)

// Role constants for organization members.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleAdmin, RoleMember, RoleViewer}

// IsValidRole reports whether role is one of ValidRoles.
func IsValidRole(role string) bool {
	return slices.Contains(ValidRoles, role)
}

// OrgMember is a user scoped to exactly one organization.
// Email is unique across all organizations.
type OrgMember struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemberInfo is the internal view of a member shared between services.
// Email and name are intentionally absent.
type MemberInfo struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
}

// Info returns the internal view of the member.
func (m *OrgMember) Info() MemberInfo {
	return MemberInfo{
		UserID: m.ID,
		OrgID:  m.OrgID,
		Role:   m.Role,
	}
}
