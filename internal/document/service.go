// Package document persists issued documents. A student holds at most one
// document per template; the database enforces that and this package never
// works around it.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/database"
	"github.com/nikhilbhutani/docissue/internal/models"
)

const (
	constraintQRToken = "documents_qr_token_key"
	maxTokenAttempts  = 5
	defaultListLimit  = 50
	maxListLimit      = 500
)

const documentColumns = `id, tenant_id, student_id, template_id, title, qr_token, qr_image_ref, output_ref,
	output_content_type, is_published, published_at, metadata, last_error, created_at, updated_at`

// TokenSource produces fresh verification tokens.
type TokenSource func() (string, error)

type Service struct {
	db     database.DB
	tokens TokenSource
}

func NewService(db database.DB, tokens TokenSource) *Service {
	return &Service{db: db, tokens: tokens}
}

type NewDocument struct {
	TenantID   uuid.UUID
	StudentID  uuid.UUID
	TemplateID uuid.UUID
	Title      string
	Snapshot   models.Snapshot
	// WithQR issues a verification token with the record.
	WithQR bool
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.StudentID, &d.TemplateID, &d.Title, &d.QRToken, &d.QRImageRef,
		&d.OutputRef, &d.OutputContentType, &d.IsPublished, &d.PublishedAt, &d.Metadata, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetOrCreate inserts the document for (student, template) unless one
// exists, in which case the existing row is returned with created=false.
// A token collision draws a new token and retries; an existing token is
// never overwritten.
func (s *Service) GetOrCreate(ctx context.Context, nd NewDocument) (*models.Document, bool, error) {
	for attempt := 1; ; attempt++ {
		var token *string
		if nd.WithQR {
			t, err := s.tokens()
			if err != nil {
				return nil, false, fmt.Errorf("issue token: %w", err)
			}
			token = &t
		}

		doc, err := scanDocument(s.db.QueryRow(ctx,
			`INSERT INTO documents (tenant_id, student_id, template_id, title, qr_token, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (student_id, template_id) DO NOTHING
			 RETURNING `+documentColumns,
			nd.TenantID, nd.StudentID, nd.TemplateID, nd.Title, token, nd.Snapshot,
		))
		switch {
		case err == nil:
			return doc, true, nil
		case errors.Is(err, pgx.ErrNoRows):
			existing, err := s.getByPair(ctx, nd.StudentID, nd.TemplateID)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		case database.IsUniqueViolation(err, constraintQRToken) && attempt < maxTokenAttempts:
			continue
		default:
			return nil, false, apperr.Persistence("insert document", err)
		}
	}
}

func (s *Service) getByPair(ctx context.Context, studentID, templateID uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE student_id = $1 AND template_id = $2",
		studentID, templateID))
	if err != nil {
		return nil, apperr.Persistence("get existing document", err)
	}
	return doc, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = $1 AND tenant_id = $2", id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("document %s", id))
	}
	if err != nil {
		return nil, apperr.Persistence("get document", err)
	}
	return doc, nil
}

// Issued is a document found by its verification token, with its issuer.
type Issued struct {
	Document   *models.Document
	IssuerName string
	IssuerSlug string
}

func (s *Service) GetByToken(ctx context.Context, token string) (*Issued, error) {
	var d models.Document
	var out Issued
	err := s.db.QueryRow(ctx,
		`SELECT d.id, d.tenant_id, d.student_id, d.template_id, d.title, d.qr_token, d.qr_image_ref,
		        d.output_ref, d.output_content_type, d.is_published, d.published_at, d.metadata,
		        d.last_error, d.created_at, d.updated_at, t.name, t.slug
		 FROM documents d JOIN tenants t ON t.id = d.tenant_id
		 WHERE d.qr_token = $1`, token,
	).Scan(&d.ID, &d.TenantID, &d.StudentID, &d.TemplateID, &d.Title, &d.QRToken, &d.QRImageRef,
		&d.OutputRef, &d.OutputContentType, &d.IsPublished, &d.PublishedAt, &d.Metadata, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt, &out.IssuerName, &out.IssuerSlug)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("document")
	}
	if err != nil {
		return nil, apperr.Persistence("get document by token", err)
	}
	out.Document = &d
	return &out, nil
}

type ListFilter struct {
	TemplateID *uuid.UUID
	StudentID  *uuid.UUID
	Published  *bool
	Limit      int
	Offset     int
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]models.Document, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}

	conds := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	if f.TemplateID != nil {
		args = append(args, *f.TemplateID)
		conds = append(conds, fmt.Sprintf("template_id = $%d", len(args)))
	}
	if f.StudentID != nil {
		args = append(args, *f.StudentID)
		conds = append(conds, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if f.Published != nil {
		args = append(args, *f.Published)
		conds = append(conds, fmt.Sprintf("is_published = $%d", len(args)))
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		documentColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("list documents", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, apperr.Persistence("scan document", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list documents", err)
	}
	return docs, nil
}

// ExistingStudentIDs returns the students that already hold a document for
// the template.
func (s *Service) ExistingStudentIDs(ctx context.Context, templateID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.db.Query(ctx, "SELECT student_id FROM documents WHERE template_id = $1", templateID)
	if err != nil {
		return nil, apperr.Persistence("list issued students", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, apperr.Persistence("scan issued students", err)
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// AttachOutput records the rendered output. Repeating it with the same
// values is harmless.
func (s *Service) AttachOutput(ctx context.Context, id uuid.UUID, ref, contentType string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET output_ref = $2, output_content_type = $3, last_error = NULL, updated_at = now()
		 WHERE id = $1`, id, ref, contentType)
	if err != nil {
		return apperr.Persistence("attach output", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(fmt.Sprintf("document %s", id))
	}
	return nil
}

// AttachQRImage stores the QR raster reference once; later calls leave the
// first value in place.
func (s *Service) AttachQRImage(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET qr_image_ref = $2, updated_at = now()
		 WHERE id = $1 AND qr_image_ref IS NULL`, id, ref)
	if err != nil {
		return apperr.Persistence("attach qr image", err)
	}
	return nil
}

func (s *Service) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE documents SET last_error = $2, updated_at = now() WHERE id = $1", id, reason)
	if err != nil {
		return apperr.Persistence("record render failure", err)
	}
	return nil
}

// Publish sets the visibility flag. publishedAt is stamped on the first
// transition to published, kept while published, and cleared on unpublish.
func (s *Service) Publish(ctx context.Context, tenantID, id uuid.UUID, published bool) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`UPDATE documents SET
		     is_published = $3,
		     published_at = CASE WHEN $3 THEN COALESCE(published_at, now()) ELSE NULL END,
		     updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING `+documentColumns,
		id, tenantID, published))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("document %s", id))
	}
	if err != nil {
		return nil, apperr.Persistence("publish document", err)
	}
	return doc, nil
}
