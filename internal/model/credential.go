// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// UserCredential is the login credential owned by the auth service.
type UserCredential struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never serialize
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email address.
// Every lookup and uniqueness check uses the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
