package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

// Scheduler hands batches to background workers.
type Scheduler interface {
	ScheduleBulk(ctx context.Context, tenantID, batchID uuid.UUID) error
	// CancelBulk removes a batch that has not started or signals a running
	// one to stop launching students.
	CancelBulk(ctx context.Context, batchID uuid.UUID) error
}

// Batches runs bulk generation asynchronously and keeps its progress.
type Batches struct {
	gen       *Service
	store     BatchStore
	scheduler Scheduler
	opts      BatchOptions
}

type BatchOptions struct {
	// Lease bounds how long one run owns a batch. A retry only takes over
	// once the previous lease lapsed.
	Lease time.Duration
	// PollInterval is how often a run checks for a recorded cancel request.
	PollInterval time.Duration
}

func NewBatches(gen *Service, store BatchStore, scheduler Scheduler, opts BatchOptions) *Batches {
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Hour
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Batches{gen: gen, store: store, scheduler: scheduler, opts: opts}
}

// Enqueue records a queued batch and schedules it.
func (b *Batches) Enqueue(ctx context.Context, tenantID, templateID uuid.UUID, studentIDs []uuid.UUID) (*models.Batch, error) {
	if _, err := b.gen.Templates.GetTemplate(ctx, tenantID, templateID); err != nil {
		return nil, err
	}
	batch := &models.Batch{
		ID:         uuid.New(),
		TenantID:   tenantID,
		TemplateID: templateID,
		StudentIDs: dedupe(studentIDs),
		Status:     models.BatchStatusQueued,
	}
	if len(batch.StudentIDs) == 0 {
		batch.StudentIDs = nil
	}
	if err := b.store.Create(ctx, batch); err != nil {
		return nil, err
	}
	if err := b.scheduler.ScheduleBulk(ctx, tenantID, batch.ID); err != nil {
		msg := "schedule failed: " + err.Error()
		if _, ferr := b.store.Finish(ctx, batch.ID, models.BatchStatusFailed, nil, &msg); ferr != nil {
			slog.Error("mark batch failed", "batch_id", batch.ID, "error", ferr)
		}
		return nil, fmt.Errorf("schedule batch %s: %w", batch.ID, err)
	}
	slog.Info("batch queued", "batch_id", batch.ID, "template_id", templateID, "students", len(batch.StudentIDs))
	return batch, nil
}

func (b *Batches) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Batch, error) {
	return b.store.Get(ctx, tenantID, id)
}

// Run executes a scheduled batch. ctx cancellation and a cancel request
// recorded on the batch both stop it; the batch then finishes as cancelled
// with a partial report. A batch that finished, had cancel requested before
// it started, or is owned by another live run is skipped.
// Errors are returned only when the batch state could not be persisted.
func (b *Batches) Run(ctx context.Context, tenantID, batchID uuid.UUID) error {
	batch, err := b.store.Get(ctx, tenantID, batchID)
	if err != nil {
		return err
	}
	ok, err := b.store.MarkRunning(ctx, batchID, time.Now().Add(b.opts.Lease))
	if err != nil {
		return err
	}
	if !ok {
		if batch.Status == models.BatchStatusQueued && batch.CancelRequestedAt != nil {
			report := &models.BatchReport{Cancelled: true, Failures: []models.BatchFailure{}}
			if _, err := b.store.Finish(ctx, batchID, models.BatchStatusCancelled, report, nil); err != nil {
				return err
			}
		}
		slog.Info("batch not claimable, skipping", "batch_id", batchID, "status", batch.Status)
		return nil
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go b.watchCancel(runCtx, stop, batchID)

	report, err := b.gen.GenerateBulk(runCtx, tenantID, batch.TemplateID, batch.StudentIDs)
	persist := context.WithoutCancel(ctx)
	if err != nil {
		msg := err.Error()
		status := models.BatchStatusFailed
		if errors.Is(err, context.Canceled) {
			status = models.BatchStatusCancelled
		}
		if _, ferr := b.store.Finish(persist, batchID, status, nil, &msg); ferr != nil {
			return ferr
		}
		slog.Error("batch failed", "batch_id", batchID, "error", err)
		return nil
	}

	status := models.BatchStatusCompleted
	if report.Cancelled {
		status = models.BatchStatusCancelled
	}
	applied, err := b.store.Finish(persist, batchID, status, report, nil)
	if err != nil {
		return err
	}
	if !applied {
		slog.Warn("batch finished elsewhere, dropping result", "batch_id", batchID)
		return nil
	}

	batch.Status = status
	batch.Report = report
	if b.gen.Notifier != nil {
		if err := b.gen.Notifier.Dispatch(persist, tenantID, webhook.EventBatchCompleted, batch); err != nil {
			slog.Error("dispatch webhook", "event", webhook.EventBatchCompleted, "batch_id", batchID, "error", err)
		}
	}
	return nil
}

// watchCancel stops a run once a cancel request shows up on the batch.
func (b *Batches) watchCancel(ctx context.Context, stop context.CancelFunc, batchID uuid.UUID) {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := b.store.CancelRequested(ctx, batchID)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("check batch cancel", "batch_id", batchID, "error", err)
				}
				continue
			}
			if requested {
				slog.Info("batch cancel observed", "batch_id", batchID)
				stop()
				return
			}
		}
	}
}

// Cancel stops a queued or running batch. A batch that already finished
// yields ErrConflict. The request is recorded first so that no retry of the
// batch can start it again.
func (b *Batches) Cancel(ctx context.Context, tenantID, id uuid.UUID) (*models.Batch, error) {
	batch, err := b.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !batch.Active() {
		return batch, fmt.Errorf("batch %s is %s: %w", id, batch.Status, apperr.ErrConflict)
	}

	status, found, err := b.store.RequestCancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		if latest, gerr := b.store.Get(ctx, tenantID, id); gerr == nil {
			batch = latest
		}
		return batch, fmt.Errorf("batch %s is %s: %w", id, batch.Status, apperr.ErrConflict)
	}
	if err := b.scheduler.CancelBulk(ctx, id); err != nil {
		// The recorded request still stops the run at its next poll.
		slog.Warn("cancel scheduled batch", "batch_id", id, "error", err)
	}

	now := time.Now().UTC()
	batch.CancelRequestedAt = &now
	batch.Status = status
	if status == models.BatchStatusQueued {
		report := &models.BatchReport{Cancelled: true, Failures: []models.BatchFailure{}}
		applied, err := b.store.Finish(ctx, id, models.BatchStatusCancelled, report, nil)
		if err != nil {
			return nil, err
		}
		if applied {
			batch.Status = models.BatchStatusCancelled
			batch.Report = report
		}
	}
	slog.Info("batch cancel requested", "batch_id", id, "status", batch.Status)
	return batch, nil
}
