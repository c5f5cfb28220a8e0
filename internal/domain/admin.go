package domain

import (
	"time"

	"github.com/google/uuid"
)

// AdminRole is an operator's permission level.
type AdminRole string

const (
	RoleViewer     AdminRole = "viewer"
	RoleAdmin      AdminRole = "admin"
	RoleSuperAdmin AdminRole = "superadmin"
)

// Valid reports whether r is a known operator role.
func (r AdminRole) Valid() bool {
	switch r {
	case RoleViewer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// CanWrite reports whether r may create links and affiliates, change rates and trigger payout runs.
// Viewers only read.
func (r AdminRole) CanWrite() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// AdminUser is an operator account.
type AdminUser struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Role         AdminRole `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
