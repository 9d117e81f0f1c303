package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docissue/internal/queue"
)

// BatchRunner executes one stored batch.
type BatchRunner interface {
	Run(ctx context.Context, tenantID, batchID uuid.UUID) error
}

type BulkWorker struct {
	batches BatchRunner
}

func NewBulkWorker(batches BatchRunner) *BulkWorker {
	return &BulkWorker{batches: batches}
}

func (w *BulkWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	tenantID, batchID, err := queue.ParseGenerationBulk(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	slog.Info("running batch", "batch_id", batchID, "tenant_id", tenantID)
	return w.batches.Run(ctx, tenantID, batchID)
}
