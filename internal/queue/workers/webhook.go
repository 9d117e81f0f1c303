package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docissue/internal/queue"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

type Sender interface {
	Deliver(ctx context.Context, req webhook.DeliveryRequest) error
}

type WebhookWorker struct {
	sender Sender
}

func NewWebhookWorker(sender Sender) *WebhookWorker {
	return &WebhookWorker{sender: sender}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	return w.sender.Deliver(ctx, payload)
}
