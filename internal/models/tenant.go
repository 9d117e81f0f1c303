package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Slug      string          `json:"slug" db:"slug"`
	Settings  json.RawMessage `json:"settings" db:"settings"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TenantSettings is the subset of tenants.settings the engine reads.
type TenantSettings struct {
	QREnabled bool `json:"qr_enabled"`
}

// ParseSettings decodes the settings blob; an empty blob yields defaults.
func (t *Tenant) ParseSettings() (TenantSettings, error) {
	var s TenantSettings
	if len(t.Settings) == 0 {
		return s, nil
	}
	err := json.Unmarshal(t.Settings, &s)
	return s, err
}

type Role struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	TenantID    uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Name        string          `json:"name" db:"name"`
	Permissions json.RawMessage `json:"permissions" db:"permissions"`
}
