package handlers

import (
	"fmt"
	"net/http"

	"github.com/nikhilbhutani/docissue/internal/audit"
	"github.com/nikhilbhutani/docissue/internal/generation"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type BatchHandler struct {
	batches BatchQueue
	audit   Auditor
}

func NewBatchHandler(batches BatchQueue, auditor Auditor) *BatchHandler {
	return &BatchHandler{batches: batches, audit: auditor}
}

func (h *BatchHandler) batch(w http.ResponseWriter, r *http.Request) (*models.Batch, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	b, err := h.batches.Get(r.Context(), tenant.IDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return b, true
}

func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	if b, ok := h.batch(w, r); ok {
		writeJSON(w, http.StatusOK, b)
	}
}

// Report exports the batch report as a spreadsheet.
func (h *BatchHandler) Report(w http.ResponseWriter, r *http.Request) {
	b, ok := h.batch(w, r)
	if !ok {
		return
	}
	data, err := generation.ReportXLSX(b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch-"+b.ID.String()+".xlsx"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *BatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.batches.Cancel(r.Context(), tenant.IDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       audit.ActionBatchCancel,
		ResourceType: "batch",
		ResourceID:   &id,
		IPAddress:    clientIP(r),
	})
	writeJSON(w, http.StatusOK, b)
}
