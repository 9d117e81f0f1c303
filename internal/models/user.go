package models

import (
	"time"

	"github.com/google/uuid"
)

// User is registrar staff acting for one tenant. RoleID selects the
// permission set RBAC checks; a user without a role can do nothing.
type User struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	TenantID  uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	RoleID    *uuid.UUID `json:"role_id,omitempty" db:"role_id"`
	Email     string     `json:"email" db:"email"`
	FullName  string     `json:"full_name,omitempty" db:"full_name"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// APIKey authenticates an integration, such as a student information
// system, for one tenant. Scopes hold permission names; "*" grants all.
// Only the key's hash is stored.
type APIKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	Name       string     `json:"name" db:"name"`
	Scopes     []string   `json:"scopes" db:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the key had an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
