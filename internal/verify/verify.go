// Package verify answers public verification requests for issued
// documents. Only published documents are ever disclosed, and only the
// fields in PublicView.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/cache"
	"github.com/nikhilbhutani/docissue/internal/document"
	"github.com/nikhilbhutani/docissue/internal/qr"
)

type Lookup interface {
	GetByToken(ctx context.Context, token string) (*document.Issued, error)
}

type Issuer struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type PublicView struct {
	Title          string    `json:"title"`
	PublishedAt    time.Time `json:"published_at"`
	StudentName    string    `json:"student_name"`
	RollNo         string    `json:"roll_no"`
	RegistrationNo string    `json:"registration_no,omitempty"`
	Issuer         Issuer    `json:"issuer"`
}

type Service struct {
	lookup Lookup
	cache  *cache.Cache
	ttl    time.Duration
}

// NewService returns a verifier. A nil cache disables caching.
func NewService(lookup Lookup, c *cache.Cache, ttl time.Duration) *Service {
	return &Service{lookup: lookup, cache: c, ttl: ttl}
}

func (s *Service) Verify(ctx context.Context, token string) (*PublicView, error) {
	if !qr.ValidToken(token) {
		return nil, apperr.NotFound("document")
	}

	var version int64
	if s.cache != nil {
		var cached PublicView
		err := s.cache.Get(ctx, token, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("verify cache read failed", "error", err)
		}
		if version, err = s.cache.Version(ctx, token); err != nil {
			slog.Warn("verify cache version failed", "error", err)
		}
	}

	issued, err := s.lookup.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	doc := issued.Document
	if !doc.IsPublished || doc.PublishedAt == nil {
		return nil, fmt.Errorf("document not published: %w", apperr.ErrForbidden)
	}

	view := &PublicView{
		Title:          doc.Title,
		PublishedAt:    doc.PublishedAt.UTC(),
		StudentName:    doc.Metadata.Name,
		RollNo:         doc.Metadata.RollNo,
		RegistrationNo: doc.Metadata.RegistrationNo,
		Issuer:         Issuer{Name: issued.IssuerName, Slug: issued.IssuerSlug},
	}

	if s.cache != nil {
		if _, err := s.cache.SetIfVersion(ctx, token, view, s.ttl, version); err != nil {
			slog.Warn("verify cache write failed", "document_id", doc.ID, "error", err)
		}
	}
	return view, nil
}

// Invalidate drops the cached view for token. Publish and unpublish call
// it so the next Verify reads the current state.
func (s *Service) Invalidate(ctx context.Context, token string) error {
	if s.cache == nil || token == "" {
		return nil
	}
	versionTTL := 2 * s.ttl
	if versionTTL < time.Hour {
		versionTTL = time.Hour
	}
	return s.cache.Invalidate(ctx, token, versionTTL)
}
