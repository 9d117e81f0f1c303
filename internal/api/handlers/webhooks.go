package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

type WebhookStore interface {
	Create(ctx context.Context, req webhook.CreateRequest) (*models.Webhook, error)
	List(ctx context.Context) ([]models.Webhook, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type WebhookHandler struct {
	svc WebhookStore
}

func NewWebhookHandler(svc WebhookStore) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhook.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	wh, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Include secret in response only on creation
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": webhooks, "count": len(webhooks)})
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
