// Package generation issues documents: single and bulk generation, render
// retries, publishing, and the asynchronous batch jobs built on them.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/document"
	"github.com/nikhilbhutani/docissue/internal/lock"
	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/qr"
	"github.com/nikhilbhutani/docissue/internal/render"
	"github.com/nikhilbhutani/docissue/internal/storage"
	"github.com/nikhilbhutani/docissue/internal/webhook"
)

type Templates interface {
	GetTemplate(ctx context.Context, tenantID, id uuid.UUID) (*models.Template, error)
}

type Students interface {
	GetStudent(ctx context.Context, tenantID, id uuid.UUID) (*models.Student, error)
	ListStudentIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type Tenants interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type Documents interface {
	GetOrCreate(ctx context.Context, nd document.NewDocument) (*models.Document, bool, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error)
	ExistingStudentIDs(ctx context.Context, templateID uuid.UUID) (map[uuid.UUID]bool, error)
	AttachOutput(ctx context.Context, id uuid.UUID, ref, contentType string) error
	AttachQRImage(ctx context.Context, id uuid.UUID, ref string) error
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
	Publish(ctx context.Context, tenantID, id uuid.UUID, published bool) (*models.Document, error)
}

// Objects is the asset store: backgrounds and photos are read from it, QR
// rasters and outputs are written to it.
type Objects interface {
	ReadAsset(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// Codes renders QR images for issued tokens.
type Codes interface {
	URL(token string) string
	Image(token string) ([]byte, error)
}

// Invalidator drops cached verification results for a token.
type Invalidator interface {
	Invalidate(ctx context.Context, token string) error
}

// Notifier fans events out to tenant webhooks.
type Notifier interface {
	Dispatch(ctx context.Context, tenantID uuid.UUID, event string, payload interface{}) error
}

type Deps struct {
	Templates   Templates
	Students    Students
	Tenants     Tenants
	Documents   Documents
	Renderer    render.Renderer
	Objects     Objects
	Codes       Codes
	Locker      lock.Locker
	Invalidator Invalidator
	Notifier    Notifier
}

type Options struct {
	// Workers bounds concurrent students in one bulk run.
	Workers int
	// LockTTL caps how long a crashed writer keeps a document's output path
	// locked. A live writer refreshes the lock, including while it waits for
	// a render slot.
	LockTTL time.Duration
}

type Service struct {
	Deps
	workers int
	lockTTL time.Duration
	now     func() time.Time
}

func NewService(deps Deps, opts Options) *Service {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Service{Deps: deps, workers: opts.Workers, lockTTL: opts.LockTTL, now: time.Now}
}

// Result is the outcome of a single generation or render retry. Warnings
// carry recoverable render notes and, for a degraded generation, the
// render failure itself.
type Result struct {
	Document *models.Document `json:"document"`
	Warnings []string         `json:"warnings,omitempty"`
}

type scope struct {
	tenant   *models.Tenant
	template *models.Template
	qr       bool
}

func (s *Service) loadScope(ctx context.Context, tenantID, templateID uuid.UUID) (*scope, error) {
	tn, err := s.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.Templates.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	settings, err := tn.ParseSettings()
	if err != nil {
		return nil, fmt.Errorf("tenant %s settings: %w", tenantID, err)
	}
	return &scope{tenant: tn, template: tpl, qr: qr.Enabled(settings.QREnabled, tpl.QREnabled)}, nil
}

// create captures the student's snapshot and creates the record. created is
// false when the pair already has a document.
func (s *Service) create(ctx context.Context, sc *scope, st *models.Student) (*models.Document, bool, error) {
	now := s.now()
	snap := models.SnapshotOf(st, now)
	title := Title(sc.template, BuildData(DataInput{
		Snapshot:   snap,
		TenantName: sc.tenant.Name,
		IssuedAt:   now,
	}))
	return s.Documents.GetOrCreate(ctx, document.NewDocument{
		TenantID:   sc.tenant.ID,
		StudentID:  st.ID,
		TemplateID: sc.template.ID,
		Title:      title,
		Snapshot:   snap,
		WithQR:     sc.qr,
	})
}

// GenerateDocument issues the document for one student. An existing
// document yields ErrConflict together with that document. A render
// failure still returns the persisted, output-less document with the
// failure as a warning.
func (s *Service) GenerateDocument(ctx context.Context, tenantID, studentID, templateID uuid.UUID) (*Result, error) {
	sc, err := s.loadScope(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}
	st, err := s.Students.GetStudent(ctx, tenantID, studentID)
	if err != nil {
		return nil, err
	}

	doc, created, err := s.create(ctx, sc, st)
	if err != nil {
		return nil, err
	}
	if !created {
		return &Result{Document: doc}, fmt.Errorf("student %s already holds document %s for template %s: %w",
			studentID, doc.ID, templateID, apperr.ErrConflict)
	}

	warnings, err := s.renderDocument(ctx, sc, doc)
	if err != nil {
		if !errors.Is(err, apperr.ErrRender) {
			return nil, err
		}
		slog.Warn("document created without output", "document_id", doc.ID, "error", err)
		warnings = append(warnings, "render failed: "+err.Error())
	}

	fresh, err := s.Documents.Get(ctx, tenantID, doc.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Document: fresh, Warnings: warnings}, nil
}

// Rerender renders a document that has no output yet, reusing its token
// and QR image. A document that already has output is returned unchanged.
func (s *Service) Rerender(ctx context.Context, tenantID, documentID uuid.UUID) (*Result, error) {
	doc, err := s.Documents.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.HasOutput() {
		return &Result{Document: doc}, nil
	}
	sc, err := s.loadScope(ctx, tenantID, doc.TemplateID)
	if err != nil {
		return nil, err
	}

	warnings, err := s.renderDocument(ctx, sc, doc)
	if err != nil {
		return nil, err
	}
	fresh, err := s.Documents.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	return &Result{Document: fresh, Warnings: warnings}, nil
}

// renderDocument renders doc and attaches the output while holding the
// document's lock. Render failures are recorded on the document.
func (s *Service) renderDocument(ctx context.Context, sc *scope, doc *models.Document) ([]string, error) {
	var warnings []string
	err := lock.With(ctx, s.Locker, lock.DocumentKey(doc.ID), s.lockTTL, func() error {
		current, err := s.Documents.Get(ctx, doc.TenantID, doc.ID)
		if err != nil {
			return err
		}
		if current.HasOutput() {
			return nil
		}

		req, err := s.request(ctx, sc, current)
		if err != nil {
			return err
		}
		out, err := s.Renderer.Render(ctx, req)
		if err != nil {
			return err
		}
		warnings = out.Warnings

		path := storage.OutputPath(doc.TenantID, doc.ID)
		if err := s.Objects.Put(ctx, path, out.Data, out.ContentType); err != nil {
			return apperr.Persistence("write output", err)
		}
		return s.Documents.AttachOutput(ctx, doc.ID, path, out.ContentType)
	})
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, fmt.Errorf("document %s is being rendered elsewhere: %w: %w", doc.ID, apperr.ErrConflict, err)
	}
	if err != nil && errors.Is(err, apperr.ErrRender) {
		if rerr := s.Documents.RecordFailure(context.WithoutCancel(ctx), doc.ID, err.Error()); rerr != nil {
			slog.Error("record render failure", "document_id", doc.ID, "error", rerr)
		}
	}
	return warnings, err
}

func (s *Service) request(ctx context.Context, sc *scope, doc *models.Document) (render.Request, error) {
	in := DataInput{
		Snapshot:   doc.Metadata,
		TenantName: sc.tenant.Name,
		IssuedAt:   doc.CreatedAt,
	}
	req := render.Request{Template: sc.template}
	if doc.QRToken != nil {
		png, err := s.qrImage(ctx, doc)
		if err != nil {
			return render.Request{}, err
		}
		in.QRToken = *doc.QRToken
		in.VerifyURL = s.Codes.URL(*doc.QRToken)
		req.QR = &render.QRSpec{PNG: png, Position: sc.template.QRPosition}
	}
	req.Data = BuildData(in)
	return req, nil
}

// qrImage returns the stored QR raster, creating and storing it on first
// use. The image is a pure function of the token, so a retried first write
// stores identical bytes.
func (s *Service) qrImage(ctx context.Context, doc *models.Document) ([]byte, error) {
	if doc.QRImageRef != nil {
		png, err := s.Objects.ReadAsset(ctx, *doc.QRImageRef)
		if err == nil {
			return png, nil
		}
		if !errors.Is(err, storage.ErrNotExist) {
			return nil, apperr.Persistence("read qr image", err)
		}
	}
	png, err := s.Codes.Image(*doc.QRToken)
	if err != nil {
		return nil, fmt.Errorf("qr image for %s: %w", doc.ID, err)
	}
	path := storage.QRPath(doc.TenantID, doc.ID)
	if err := s.Objects.Put(ctx, path, png, "image/png"); err != nil {
		return nil, apperr.Persistence("write qr image", err)
	}
	if err := s.Documents.AttachQRImage(ctx, doc.ID, path); err != nil {
		return nil, err
	}
	return png, nil
}

// Publish flips the document's visibility, drops the cached verification
// result and notifies webhooks.
func (s *Service) Publish(ctx context.Context, tenantID, documentID uuid.UUID, published bool) (*models.Document, error) {
	doc, err := s.Documents.Publish(ctx, tenantID, documentID, published)
	if err != nil {
		return nil, err
	}
	if doc.QRToken != nil && s.Invalidator != nil {
		// A stale cached view would outlive the visibility change, so
		// surface the failure; repeating the call is harmless.
		if err := s.Invalidator.Invalidate(ctx, *doc.QRToken); err != nil {
			return nil, apperr.Persistence("invalidate verification cache", err)
		}
	}
	if s.Notifier != nil {
		event := webhook.EventDocumentPublished
		if !published {
			event = webhook.EventDocumentUnpublished
		}
		if err := s.Notifier.Dispatch(ctx, tenantID, event, doc); err != nil {
			slog.Error("dispatch webhook", "event", event, "document_id", doc.ID, "error", err)
		}
	}
	return doc, nil
}
