package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docissue/internal/config"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

// Client enqueues background work and manages queued batches. It serves as
// the batch scheduler and the webhook deliverer for the API process.
type Client struct {
	client      *asynq.Client
	inspector   *asynq.Inspector
	bulkTimeout time.Duration
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig, bulkTimeout time.Duration) *Client {
	opt := RedisOpt(cfg)
	return &Client{
		client:      asynq.NewClient(opt),
		inspector:   asynq.NewInspector(opt),
		bulkTimeout: bulkTimeout,
	}
}

func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

func (c *Client) ScheduleBulk(ctx context.Context, tenantID, batchID uuid.UUID) error {
	task, err := NewGenerationBulkTask(tenantID, batchID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(2),
		asynq.Timeout(c.bulkTimeout),
		asynq.Retention(24*time.Hour))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeGenerationBulk, err)
	}
	return nil
}

// CancelBulk deletes the batch's task while it waits, or signals the worker
// processing it. A task that is already gone is not an error.
func (c *Client) CancelBulk(_ context.Context, batchID uuid.UUID) error {
	id := batchID.String()
	info, err := c.inspector.GetTaskInfo(QueueDefault, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect task %s: %w", id, err)
	}

	switch info.State {
	case asynq.TaskStateActive:
		err = c.inspector.CancelProcessing(id)
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		err = c.inspector.DeleteTask(QueueDefault, id)
	default:
		return nil
	}
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return fmt.Errorf("cancel task %s: %w", id, err)
	}
	return nil
}

// Enqueue hands a webhook delivery to the worker, which retries failed
// deliveries with backoff.
func (c *Client) Enqueue(ctx context.Context, req webhook.DeliveryRequest) error {
	return c.enqueue(ctx, TypeWebhookDeliver, WebhookDeliverPayload(req),
		asynq.Queue(QueueLow), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
