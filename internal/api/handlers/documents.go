package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/audit"
	"github.com/nikhilbhutani/docissue/internal/document"
	"github.com/nikhilbhutani/docissue/internal/generation"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/tenant"
)

type Generator interface {
	GenerateDocument(ctx context.Context, tenantID, studentID, templateID uuid.UUID) (*generation.Result, error)
	Rerender(ctx context.Context, tenantID, documentID uuid.UUID) (*generation.Result, error)
	Publish(ctx context.Context, tenantID, documentID uuid.UUID, published bool) (*models.Document, error)
	GenerateBulk(ctx context.Context, tenantID, templateID uuid.UUID, studentIDs []uuid.UUID) (*models.BatchReport, error)
}

type DocumentStore interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error)
	List(ctx context.Context, tenantID uuid.UUID, f document.ListFilter) ([]models.Document, error)
}

type ObjectReader interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

type Auditor interface {
	Record(ctx context.Context, entry audit.LogEntry)
}

type DocumentHandler struct {
	gen     Generator
	docs    DocumentStore
	objects ObjectReader
	audit   Auditor
}

func NewDocumentHandler(gen Generator, docs DocumentStore, objects ObjectReader, auditor Auditor) *DocumentHandler {
	return &DocumentHandler{gen: gen, docs: docs, objects: objects, audit: auditor}
}

type generateRequest struct {
	StudentID  uuid.UUID `json:"student_id" validate:"required"`
	TemplateID uuid.UUID `json:"template_id" validate:"required"`
}

type publishRequest struct {
	Published *bool `json:"published" validate:"required"`
}

func (h *DocumentHandler) record(r *http.Request, action string, id uuid.UUID, details map[string]interface{}) {
	h.audit.Record(r.Context(), audit.LogEntry{
		Action:       action,
		ResourceType: "document",
		ResourceID:   &id,
		Details:      details,
		IPAddress:    clientIP(r),
	})
}

// Generate issues one document. A student that already holds the document
// gets 409 with the existing record.
func (h *DocumentHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.gen.GenerateDocument(r.Context(), tenant.IDFromContext(r.Context()), req.StudentID, req.TemplateID)
	if errors.Is(err, apperr.ErrConflict) && res != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": err.Error(), "document": res.Document})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.record(r, audit.ActionDocumentGenerate, res.Document.ID, map[string]interface{}{
		"student_id":  req.StudentID,
		"template_id": req.TemplateID,
		"rendered":    res.Document.HasOutput(),
	})
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	f := document.ListFilter{Limit: queryInt(r, "limit"), Offset: queryInt(r, "offset")}
	var err error
	if f.TemplateID, err = queryID(r, "template_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.StudentID, err = queryID(r, "student_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if s := r.URL.Query().Get("published"); s != "" {
		p, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, r, apperr.Validation("invalid published"))
			return
		}
		f.Published = &p
	}

	docs, err := h.docs.List(r.Context(), tenant.IDFromContext(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) get(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	doc, err := h.docs.Get(r.Context(), tenant.IDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return doc, true
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if doc, ok := h.get(w, r); ok {
		writeJSON(w, http.StatusOK, doc)
	}
}

// Download streams the rendered output.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.get(w, r)
	if !ok {
		return
	}
	if !doc.HasOutput() {
		writeError(w, r, apperr.NotFound("document output"))
		return
	}
	contentType := "application/octet-stream"
	if doc.OutputContentType != nil {
		contentType = *doc.OutputContentType
	}
	h.stream(w, r, *doc.OutputRef, contentType, fmt.Sprintf("attachment; filename=%q", doc.ID.String()+".pdf"))
}

// QR streams the document's verification code image.
func (h *DocumentHandler) QR(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.get(w, r)
	if !ok {
		return
	}
	if doc.QRImageRef == nil {
		writeError(w, r, apperr.NotFound("document qr image"))
		return
	}
	h.stream(w, r, *doc.QRImageRef, "image/png", "inline")
}

func (h *DocumentHandler) stream(w http.ResponseWriter, r *http.Request, ref, contentType, disposition string) {
	rc, err := h.objects.Open(r.Context(), ref)
	if err != nil {
		writeError(w, r, apperr.Persistence("open "+ref, err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("stream object", "ref", ref, "error", err)
	}
}

// Render retries rendering for a document that has no output.
func (h *DocumentHandler) Render(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.gen.Rerender(r.Context(), tenant.IDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.ActionDocumentRerender, id, nil)
	writeJSON(w, http.StatusOK, res)
}

func (h *DocumentHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req publishRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.gen.Publish(r.Context(), tenant.IDFromContext(r.Context()), id, *req.Published)
	if err != nil {
		writeError(w, r, err)
		return
	}
	action := audit.ActionDocumentPublish
	if !*req.Published {
		action = audit.ActionDocumentUnpublish
	}
	h.record(r, action, id, nil)
	writeJSON(w, http.StatusOK, doc)
}
