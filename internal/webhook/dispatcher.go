package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/database"
)

var ErrQueueFull = errors.New("webhook delivery queue full")

// Deliverer accepts deliveries for asynchronous sending.
type Deliverer interface {
	Enqueue(ctx context.Context, req DeliveryRequest) error
}

// Dispatcher sends deliveries from an in-process buffer. Deployments with a
// worker hand deliveries to the task queue instead and call Deliver from
// the worker, which adds retries.
type Dispatcher struct {
	db         database.DB
	httpClient *http.Client
	deliveries chan DeliveryRequest
}

type DeliveryRequest struct {
	WebhookID uuid.UUID `json:"webhook_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Event     string    `json:"event"`
	Payload   []byte    `json:"payload"`
}

func NewDispatcher(db database.DB) *Dispatcher {
	d := &Dispatcher{
		db: db,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries: make(chan DeliveryRequest, 1000),
	}
	go d.processLoop()
	return d
}

func (d *Dispatcher) Enqueue(_ context.Context, req DeliveryRequest) error {
	select {
	case d.deliveries <- req:
		return nil
	default:
		slog.Warn("webhook delivery queue full, dropping", "webhook_id", req.WebhookID, "event", req.Event)
		return ErrQueueFull
	}
}

func (d *Dispatcher) processLoop() {
	for req := range d.deliveries {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_ = d.Deliver(ctx, req)
		cancel()
	}
}

// Deliver posts one signed payload and records the attempt. A transport
// error or non-2xx response is returned so queue workers can retry.
func (d *Dispatcher) Deliver(ctx context.Context, req DeliveryRequest) error {
	signature := sign(req.Payload, req.Secret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		slog.Error("webhook request creation failed", "error", err)
		d.recordDelivery(ctx, req, 0, err)
		return fmt.Errorf("build webhook request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.Event)
	httpReq.Header.Set("X-Webhook-Signature", signature)
	httpReq.Header.Set("X-Webhook-ID", req.WebhookID.String())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("webhook delivery failed", "error", err, "webhook_id", req.WebhookID)
		d.recordDelivery(ctx, req, 0, err)
		return fmt.Errorf("deliver webhook %s: %w", req.WebhookID, err)
	}
	defer resp.Body.Close()

	d.recordDelivery(ctx, req, resp.StatusCode, nil)

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "webhook_id", req.WebhookID)
		return fmt.Errorf("webhook %s responded %d", req.WebhookID, resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) recordDelivery(ctx context.Context, req DeliveryRequest, status int, deliveryErr error) {
	var deliveredAt *time.Time
	if deliveryErr == nil && status < 400 {
		now := time.Now()
		deliveredAt = &now
	}

	_, err := d.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, 1, $5)`,
		req.WebhookID, req.Event, req.Payload, status, deliveredAt,
	)
	if err != nil {
		slog.Error("failed to record webhook delivery", "error", err)
	}
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
