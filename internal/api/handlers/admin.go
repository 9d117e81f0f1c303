package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/audit"
	"github.com/nikhilbhutani/docissue/internal/models"
)

type AuditReader interface {
	GetAuditLogs(ctx context.Context, q audit.AuditQuery) ([]models.AuditLog, error)
}

type AdminHandler struct {
	auditSvc AuditReader
}

func NewAdminHandler(auditSvc AuditReader) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := audit.AuditQuery{
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	for name, dst := range map[string]**time.Time{"start_date": &q.StartDate, "end_date": &q.EndDate} {
		s := r.URL.Query().Get(name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, r, apperr.Validation("invalid %s", name))
			return
		}
		*dst = &t
	}

	logs, err := h.auditSvc.GetAuditLogs(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"audit_logs": logs, "count": len(logs)})
}
