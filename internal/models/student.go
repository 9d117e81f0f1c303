package models

import (
	"time"

	"github.com/google/uuid"
)

type Student struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	TenantID       uuid.UUID         `json:"tenant_id" db:"tenant_id"`
	RollNo         string            `json:"roll_no" db:"roll_no"`
	Name           string            `json:"name" db:"name"`
	RegistrationNo string            `json:"registration_no,omitempty" db:"registration_no"`
	FatherName     string            `json:"father_name,omitempty" db:"father_name"`
	MotherName     string            `json:"mother_name,omitempty" db:"mother_name"`
	DOB            *time.Time        `json:"dob,omitempty" db:"dob"`
	Email          string            `json:"email,omitempty" db:"email"`
	Mobile         string            `json:"mobile,omitempty" db:"mobile"`
	CustomFields   map[string]string `json:"custom_fields,omitempty" db:"custom_fields"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}
