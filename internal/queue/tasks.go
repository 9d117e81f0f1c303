package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docissue/internal/webhook"
)

const (
	TypeGenerationBulk = "generation:bulk"
	TypeWebhookDeliver = "webhook:deliver"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type GenerationBulkPayload struct {
	BatchID  string `json:"batch_id"`
	TenantID string `json:"tenant_id"`
}

// WebhookDeliverPayload is the delivery as captured at dispatch time.
type WebhookDeliverPayload = webhook.DeliveryRequest

// NewGenerationBulkTask builds the task for a batch. Its ID is the batch
// ID so the batch is queued at most once and can be found for cancelling.
func NewGenerationBulkTask(tenantID, batchID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(GenerationBulkPayload{BatchID: batchID.String(), TenantID: tenantID.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeGenerationBulk, data, asynq.TaskID(batchID.String()), asynq.Queue(QueueDefault)), nil
}

// ParseGenerationBulk decodes and validates a bulk task's payload.
func ParseGenerationBulk(t *asynq.Task) (tenantID, batchID uuid.UUID, err error) {
	var p GenerationBulkPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if tenantID, err = uuid.Parse(p.TenantID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse tenant ID: %w", err)
	}
	if batchID, err = uuid.Parse(p.BatchID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse batch ID: %w", err)
	}
	return tenantID, batchID, nil
}
