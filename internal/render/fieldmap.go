package render

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/nikhilbhutani/docissue/internal/models"
	"github.com/nikhilbhutani/docissue/internal/substitute"
)

// FieldMap draws mapped fields at exact pixel rectangles over a background
// raster or the first page of a background PDF. The output page has the
// background's dimensions, one point per pixel.
type FieldMap struct {
	assets    Assets
	placement Placement
}

func NewFieldMap(assets Assets, placement Placement) *FieldMap {
	return &FieldMap{assets: assets, placement: placement}
}

func (f *FieldMap) Render(ctx context.Context, req Request) (*Output, error) {
	t := req.Template
	if t.BackgroundRef == "" {
		return nil, errorf(ReasonMissingAsset, "template %s has no background", t.ID)
	}
	raw, err := f.assets.ReadAsset(ctx, t.BackgroundRef)
	if err != nil {
		return nil, errorf(ReasonMissingAsset, "%s: %w", t.BackgroundRef, err)
	}
	if isPDF(raw) {
		return f.renderOverPDF(ctx, raw, req)
	}

	bg, err := decodeImage(t.BackgroundRef, raw)
	if err != nil {
		return nil, err
	}
	page, warnings, err := f.compose(ctx, bg, t, req)
	if err != nil {
		return nil, err
	}

	out, err := encodePDF(page)
	if err != nil {
		return nil, &Error{Reason: ReasonEngine, Err: err}
	}
	out.Warnings = warnings
	return out, nil
}

// renderOverPDF draws the fields on a transparent layer the size of the
// background's first page and lays it over that page.
func (f *FieldMap) renderOverPDF(ctx context.Context, raw []byte, req Request) (*Output, error) {
	bg, err := importFirstPage(raw)
	if err != nil {
		return nil, errorf(ReasonFieldType, "%s: %w", req.Template.BackgroundRef, err)
	}
	w, h := int(bg.width+0.5), int(bg.height+0.5)
	if err := checkPageSize(w, h); err != nil {
		return nil, errorf(ReasonInvalidPayload, "%s: %w", req.Template.BackgroundRef, err)
	}

	layer, warnings, err := f.compose(ctx, image.NewNRGBA(image.Rect(0, 0, w, h)), req.Template, req)
	if err != nil {
		return nil, err
	}
	out, err := bg.overlay(layer)
	if err != nil {
		return nil, &Error{Reason: ReasonEngine, Err: err}
	}
	out.Warnings = warnings
	return out, nil
}

func (f *FieldMap) compose(ctx context.Context, bg image.Image, t *models.Template, req Request) (image.Image, []string, error) {
	dc := gg.NewContextForImage(bg)
	faces := faceCache{}
	var warnings []string
	qrPlaced := false

	for i, m := range t.FieldMappings {
		if err := ctx.Err(); err != nil {
			return nil, nil, &Error{Reason: ReasonCancelled, Err: err}
		}
		source := m.Source
		if source == "" {
			source = "{{" + m.Name + "}}"
		}

		switch m.Type {
		case models.FieldText, "":
			err := drawText(dc, faces, textSpec{
				text:   substitute.Substitute(source, req.Data),
				x:      m.X,
				y:      m.Y,
				width:  m.Width,
				height: m.Height,
				size:   m.Style.FontSize,
				family: m.Style.FontFamily,
				bold:   m.Style.Bold,
				color:  m.Style.Color,
				align:  m.Style.Align,
			})
			if err != nil {
				return nil, nil, errorf(ReasonInvalidPayload, "field %q: %w", m.Name, err)
			}

		case models.FieldImage:
			ref := substitute.Substitute(source, req.Data)
			if ref == "" {
				warnings = append(warnings, fmt.Sprintf("field %q: no image for this student, left blank", m.Name))
				continue
			}
			img, err := loadImage(ctx, f.assets, ref)
			if err != nil {
				return nil, nil, err
			}
			if err := drawImageRect(dc, img, m.X, m.Y, m.Width, m.Height, imaging.Lanczos); err != nil {
				return nil, nil, err
			}

		case models.FieldQR:
			if req.QR == nil {
				warnings = append(warnings, fmt.Sprintf("field %q: qr disabled, left blank", m.Name))
				continue
			}
			code, err := decodePNG(req.QR.PNG)
			if err != nil {
				return nil, nil, err
			}
			w, h := m.Width, m.Height
			if w <= 0 && h <= 0 {
				w, h = f.placement.Size, f.placement.Size
			}
			if err := drawImageRect(dc, code, m.X, m.Y, w, h, imaging.NearestNeighbor); err != nil {
				return nil, nil, err
			}
			qrPlaced = true

		default:
			return nil, nil, errorf(ReasonFieldType, "field %d (%q) has unknown type %q", i, m.Name, m.Type)
		}
	}

	if req.QR != nil && !qrPlaced {
		if err := placeQR(dc, req.QR, f.placement); err != nil {
			return nil, nil, err
		}
	}
	return dc.Image(), warnings, nil
}

// placeQR composites the code at the template position or the default
// corner of the canvas.
func placeQR(dc *gg.Context, spec *QRSpec, placement Placement) error {
	code, err := decodePNG(spec.PNG)
	if err != nil {
		return err
	}
	x, y, size := placement.corner(spec.Position, float64(dc.Width()), float64(dc.Height()))
	return drawImageRect(dc, code, x, y, size, size, imaging.NearestNeighbor)
}
