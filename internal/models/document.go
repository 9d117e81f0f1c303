package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is one issued artifact for a (student, template) pair.
type Document struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	TenantID          uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	StudentID         uuid.UUID  `json:"student_id" db:"student_id"`
	TemplateID        uuid.UUID  `json:"template_id" db:"template_id"`
	Title             string     `json:"title" db:"title"`
	QRToken           *string    `json:"qr_token,omitempty" db:"qr_token"`
	QRImageRef        *string    `json:"qr_image_ref,omitempty" db:"qr_image_ref"`
	OutputRef         *string    `json:"output_ref,omitempty" db:"output_ref"`
	OutputContentType *string    `json:"output_content_type,omitempty" db:"output_content_type"`
	IsPublished       bool       `json:"is_published" db:"is_published"`
	PublishedAt       *time.Time `json:"published_at,omitempty" db:"published_at"`
	Metadata          Snapshot   `json:"metadata" db:"metadata"`
	LastError         *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

func (d *Document) HasOutput() bool {
	return d.OutputRef != nil && *d.OutputRef != ""
}

// Snapshot freezes the student's identity fields at generation time.
// It is written once, with the insert that creates the document.
type Snapshot struct {
	Name           string            `json:"name"`
	RollNo         string            `json:"roll_no"`
	RegistrationNo string            `json:"registration_no,omitempty"`
	FatherName     string            `json:"father_name,omitempty"`
	MotherName     string            `json:"mother_name,omitempty"`
	DOB            string            `json:"dob,omitempty"`
	Email          string            `json:"email,omitempty"`
	Mobile         string            `json:"mobile,omitempty"`
	CustomFields   map[string]string `json:"custom_fields,omitempty"`
	CapturedAt     time.Time         `json:"captured_at"`
}

// SnapshotOf captures s as of now.
func SnapshotOf(s *Student, now time.Time) Snapshot {
	var custom map[string]string
	if len(s.CustomFields) > 0 {
		custom = make(map[string]string, len(s.CustomFields))
		for k, v := range s.CustomFields {
			custom[k] = v
		}
	}
	snap := Snapshot{
		Name:           s.Name,
		RollNo:         s.RollNo,
		RegistrationNo: s.RegistrationNo,
		FatherName:     s.FatherName,
		MotherName:     s.MotherName,
		Email:          s.Email,
		Mobile:         s.Mobile,
		CustomFields:   custom,
		CapturedAt:     now.UTC(),
	}
	if s.DOB != nil {
		snap.DOB = s.DOB.Format(time.DateOnly)
	}
	return snap
}
