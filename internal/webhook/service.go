package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

type Service struct {
	db         database.DB
	dispatcher Deliverer
}

func NewService(db database.DB, dispatcher Deliverer) *Service {
	return &Service{db: db, dispatcher: dispatcher}
}

type CreateRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,required"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Webhook, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range req.Events {
		if !KnownEvent(e) {
			return nil, apperr.Validation("unknown event %q", e)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	eventsJSON, _ := json.Marshal(req.Events)

	var wh models.Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (tenant_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING id, tenant_id, url, events, is_active, created_at`,
		tenantID, req.URL, eventsJSON, secret,
	).Scan(&wh.ID, &wh.TenantID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	// Return secret only on creation
	wh.Secret = secret

	return &wh, nil
}

func (s *Service) List(ctx context.Context) ([]models.Webhook, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, url, events, is_active, created_at
		 FROM webhooks WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.TenantID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1 AND tenant_id = $2", id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(fmt.Sprintf("webhook %s", id))
	}
	return nil
}

// Dispatch sends an event to all of the tenant's active webhooks subscribed
// to it. Delivery is asynchronous.
func (s *Service) Dispatch(ctx context.Context, tenantID uuid.UUID, event string, payload interface{}) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, url, secret FROM webhooks
		 WHERE tenant_id = $1 AND is_active = true AND events @> $2::jsonb`,
		tenantID, fmt.Sprintf(`["%s"]`, event),
	)
	if err != nil {
		return fmt.Errorf("find matching webhooks: %w", err)
	}
	defer rows.Close()

	payloadJSON, err := json.Marshal(map[string]interface{}{"event": event, "data": payload})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	for rows.Next() {
		var id uuid.UUID
		var url, secret string
		if err := rows.Scan(&id, &url, &secret); err != nil {
			return fmt.Errorf("scan webhook: %w", err)
		}

		if s.dispatcher == nil {
			continue
		}
		err := s.dispatcher.Enqueue(ctx, DeliveryRequest{
			WebhookID: id,
			URL:       url,
			Secret:    secret,
			Event:     event,
			Payload:   payloadJSON,
		})
		if err != nil {
			slog.Error("enqueue webhook delivery", "webhook_id", id, "event", event, "error", err)
		}
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
