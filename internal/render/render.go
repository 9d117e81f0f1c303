// Package render turns a template plus resolved student data into document
// bytes. Each template type has its own Renderer; Registry dispatches on the
// type tag.
package render

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/models"
)

const ContentTypePDF = "application/pdf"

// Renderer produces document bytes. Implementations must not mutate
// req.Template.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Output, error)
}

// Assets reads stored objects such as backgrounds and photos by reference.
type Assets interface {
	ReadAsset(ctx context.Context, ref string) ([]byte, error)
}

type Request struct {
	Template *models.Template
	Data     map[string]string
	// QR is nil when the document carries no verification code.
	QR *QRSpec
}

type QRSpec struct {
	PNG []byte
	// Position overrides the default corner placement.
	Position *models.QRPosition
}

type Output struct {
	Data        []byte
	ContentType string
	WidthPt     float64
	HeightPt    float64
	Warnings    []string
}

// Placement is the fallback QR geometry, in the renderer's native units.
type Placement struct {
	Size   float64
	Offset float64
}

// corner returns the QR square for a page of the given size: the template
// position when set, otherwise the bottom-right corner inset by Offset.
func (p Placement) corner(pos *models.QRPosition, pageW, pageH float64) (x, y, size float64) {
	if pos != nil {
		size = pos.Size
		if size <= 0 {
			size = p.Size
		}
		return pos.X, pos.Y, size
	}
	return pageW - p.Offset - p.Size, pageH - p.Offset - p.Size, p.Size
}

const (
	ReasonTimeout         = "timeout"
	ReasonCancelled       = "cancelled"
	ReasonMalformedMarkup = "malformed markup"
	ReasonMissingAsset    = "missing asset"
	ReasonFieldType       = "field type mismatch"
	ReasonInvalidPayload  = "invalid template payload"
	ReasonEngine          = "rendering engine failure"
	ReasonOverflow        = "content overflows page"
	ReasonUnsupported     = "unsupported template type"
	ReasonPanic           = "renderer panic"
)

// Error is a render failure. It matches apperr.ErrRender.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{apperr.ErrRender}
	}
	return []error{apperr.ErrRender, e.Err}
}

func errorf(reason, format string, args ...interface{}) *Error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Registry selects the renderer for a template's type.
type Registry struct {
	renderers map[models.TemplateType]Renderer
}

func NewRegistry(renderers map[models.TemplateType]Renderer) *Registry {
	return &Registry{renderers: renderers}
}

func (r *Registry) For(t models.TemplateType) (Renderer, error) {
	rr, ok := r.renderers[t]
	if !ok {
		return nil, errorf(ReasonUnsupported, "%q", t)
	}
	return rr, nil
}

func (r *Registry) Render(ctx context.Context, req Request) (*Output, error) {
	if req.Template == nil {
		return nil, errorf(ReasonInvalidPayload, "nil template")
	}
	rr, err := r.For(req.Template.Type)
	if err != nil {
		return nil, err
	}
	return rr.Render(ctx, req)
}
