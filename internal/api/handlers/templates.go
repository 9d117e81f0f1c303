package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/audit"
	"github.com/nikhilbhutani/docissue/internal/generation"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

type TemplateReader interface {
	GetTemplate(ctx context.Context, tenantID, id uuid.UUID) (*models.Template, error)
}

type BatchQueue interface {
	Enqueue(ctx context.Context, tenantID, templateID uuid.UUID, studentIDs []uuid.UUID) (*models.Batch, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Batch, error)
	Cancel(ctx context.Context, tenantID, id uuid.UUID) (*models.Batch, error)
}

type TemplateHandler struct {
	templates TemplateReader
	gen       Generator
	batches   BatchQueue
	audit     Auditor
}

func NewTemplateHandler(templates TemplateReader, gen Generator, batches BatchQueue, auditor Auditor) *TemplateHandler {
	return &TemplateHandler{templates: templates, gen: gen, batches: batches, audit: auditor}
}

type bulkRequest struct {
	StudentIDs []uuid.UUID `json:"student_ids" validate:"max=10000"`
	Async      bool        `json:"async"`
}

func (h *TemplateHandler) Variables(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	tpl, err := h.templates.GetTemplate(r.Context(), tenant.IDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"template_id": tpl.ID, "variables": generation.Variables(tpl)})
}

// Generate runs bulk generation for the template. Synchronous runs answer
// with the report; async runs answer 202 with the queued batch.
func (h *TemplateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bulkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tenantID := tenant.IDFromContext(r.Context())

	if req.Async {
		batch, err := h.batches.Enqueue(r.Context(), tenantID, id, req.StudentIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		h.audit.Record(r.Context(), audit.LogEntry{
			Action:       audit.ActionBatchEnqueue,
			ResourceType: "batch",
			ResourceID:   &batch.ID,
			Details:      map[string]interface{}{"template_id": id, "students": len(req.StudentIDs)},
			IPAddress:    clientIP(r),
		})
		writeJSON(w, http.StatusAccepted, batch)
		return
	}

	report, err := h.gen.GenerateBulk(r.Context(), tenantID, id, req.StudentIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       audit.ActionBulkGenerate,
		ResourceType: "template",
		ResourceID:   &id,
		Details: map[string]interface{}{
			"total":     report.Total,
			"succeeded": report.Succeeded,
			"skipped":   report.Skipped,
			"failed":    report.Failed,
			"pending":   report.Pending,
		},
		IPAddress: clientIP(r),
	})
	writeJSON(w, http.StatusOK, report)
}
