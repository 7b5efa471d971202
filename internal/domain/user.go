package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account able to own conversations. PasswordHash never leaves the
// service.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the user for persistence and defaults the role.
func (u *User) Validate() error {
	if u.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(u.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if u.Email == "" {
		return &ValidationError{Field: "email", Reason: "is required"}
	}
	if u.PasswordHash == "" {
		return &ValidationError{Field: "password", Reason: "is required"}
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Role != RoleUser && u.Role != RoleAdmin {
		return &ValidationError{Field: "role", Reason: "must be user or admin"}
	}
	return nil
}
