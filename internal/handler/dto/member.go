package dto

import "github.com/trustline/trustline/internal/model"

// CreateMemberRequest represents the request body for adding a member.
type CreateMemberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// CreateMemberResponse is returned with 201 Created.
type CreateMemberResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	OrgID   string `json:"org_id"`
	Role    string `json:"role"`
}

// ToCreateMemberResponse converts an OrgMember to its creation response.
func ToCreateMemberResponse(m *model.OrgMember) *CreateMemberResponse {
	return &CreateMemberResponse{
		Message: "user created",
		UserID:  m.ID,
		Email:   m.Email,
		OrgID:   m.OrgID,
		Role:    m.Role,
	}
}
