package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BatchStatusQueued    = "queued"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusCancelled = "cancelled"
	BatchStatusFailed    = "failed"
)

type Batch struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	TenantID   uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	TemplateID uuid.UUID    `json:"template_id" db:"template_id"`
	StudentIDs []uuid.UUID  `json:"student_ids,omitempty" db:"student_ids"`
	Status     string       `json:"status" db:"status"`
	Report     *BatchReport `json:"report,omitempty" db:"report"`
	Error      *string      `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	// CancelRequestedAt is set once a cancel was asked for; a batch carrying
	// it is never started again.
	CancelRequestedAt *time.Time `json:"cancel_requested_at,omitempty" db:"cancel_requested_at"`
}

// Active reports whether the batch can still change state.
func (b *Batch) Active() bool {
	return b.Status == BatchStatusQueued || b.Status == BatchStatusRunning
}

// BatchReport is always complete: every requested student lands in exactly
// one of succeeded, skipped, failed or pending.
type BatchReport struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Pending   int            `json:"pending"`
	Cancelled bool           `json:"cancelled"`
	Failures  []BatchFailure `json:"failures"`
	Warnings  []BatchWarning `json:"warnings,omitempty"`
}

type BatchFailure struct {
	StudentID uuid.UUID `json:"student_id"`
	Reason    string    `json:"reason"`
}

type BatchWarning struct {
	StudentID uuid.UUID `json:"student_id"`
	Message   string    `json:"message"`
}
