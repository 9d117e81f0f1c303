package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/models"
)

type BatchStore interface {
	Create(ctx context.Context, b *models.Batch) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Batch, error)
	// MarkRunning claims the batch for one run until leaseUntil. It reports
	// false when the batch is finished, cancel was requested, or another run
	// holds an unexpired lease.
	MarkRunning(ctx context.Context, id uuid.UUID, leaseUntil time.Time) (bool, error)
	// RequestCancel records a cancel request on an active batch and returns
	// its status at that moment. found is false when the batch is no longer
	// active.
	RequestCancel(ctx context.Context, id uuid.UUID) (status string, found bool, err error)
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
	// Finish moves an active batch to a final status. It reports false when
	// the batch had already finished.
	Finish(ctx context.Context, id uuid.UUID, status string, report *models.BatchReport, errMsg *string) (bool, error)
}

type BatchRepository struct {
	db  database.DB
	now func() time.Time
}

func NewBatchRepository(db database.DB) *BatchRepository {
	return &BatchRepository{db: db, now: time.Now}
}

func (r *BatchRepository) Create(ctx context.Context, b *models.Batch) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO generation_batches (id, tenant_id, template_id, student_ids, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		b.ID, b.TenantID, b.TemplateID, b.StudentIDs, b.Status,
	).Scan(&b.CreatedAt)
	if err != nil {
		return apperr.Persistence("insert batch", err)
	}
	return nil
}

func (r *BatchRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Batch, error) {
	var b models.Batch
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, template_id, student_ids, status, report, error, created_at, started_at, finished_at,
		        cancel_requested_at
		 FROM generation_batches WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&b.ID, &b.TenantID, &b.TemplateID, &b.StudentIDs, &b.Status, &b.Report, &b.Error,
		&b.CreatedAt, &b.StartedAt, &b.FinishedAt, &b.CancelRequestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("batch %s", id))
	}
	if err != nil {
		return nil, apperr.Persistence("get batch", err)
	}
	return &b, nil
}

// MarkRunning takes a queued batch, or a running one whose previous run
// let its lease lapse, and stamps a new lease.
func (r *BatchRepository) MarkRunning(ctx context.Context, id uuid.UUID, leaseUntil time.Time) (bool, error) {
	now := r.now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE generation_batches
		 SET status = $2, started_at = COALESCE(started_at, $3), lease_until = $4
		 WHERE id = $1 AND cancel_requested_at IS NULL
		   AND (status = $5 OR (status = $2 AND lease_until < $3))`,
		id, models.BatchStatusRunning, now, leaseUntil.UTC(), models.BatchStatusQueued)
	if err != nil {
		return false, apperr.Persistence("start batch", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BatchRepository) RequestCancel(ctx context.Context, id uuid.UUID) (string, bool, error) {
	var status string
	err := r.db.QueryRow(ctx,
		`UPDATE generation_batches
		 SET cancel_requested_at = COALESCE(cancel_requested_at, $2)
		 WHERE id = $1 AND status IN ($3, $4)
		 RETURNING status`,
		id, r.now().UTC(), models.BatchStatusQueued, models.BatchStatusRunning,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Persistence("request batch cancel", err)
	}
	return status, true, nil
}

func (r *BatchRepository) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx,
		`SELECT cancel_requested_at IS NOT NULL FROM generation_batches WHERE id = $1`, id,
	).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.NotFound(fmt.Sprintf("batch %s", id))
	}
	if err != nil {
		return false, apperr.Persistence("check batch cancel", err)
	}
	return requested, nil
}

func (r *BatchRepository) Finish(ctx context.Context, id uuid.UUID, status string, report *models.BatchReport, errMsg *string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE generation_batches
		 SET status = $2, report = $3, error = $4, finished_at = $5, lease_until = NULL
		 WHERE id = $1 AND status IN ($6, $7)`,
		id, status, report, errMsg, r.now().UTC(), models.BatchStatusQueued, models.BatchStatusRunning)
	if err != nil {
		return false, apperr.Persistence("finish batch", err)
	}
	return tag.RowsAffected() == 1, nil
}
