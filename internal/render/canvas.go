package render

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/nikhilbhutani/docissue/internal/substitute"
)

// LegacyCanvas paints a serialized scene of text, image and shape objects.
type LegacyCanvas struct {
	assets    Assets
	placement Placement
}

func NewLegacyCanvas(assets Assets, placement Placement) *LegacyCanvas {
	return &LegacyCanvas{assets: assets, placement: placement}
}

func (c *LegacyCanvas) Render(ctx context.Context, req Request) (*Output, error) {
	scene, warnings, err := DecodeScene([]byte(req.Template.Content))
	if err != nil {
		return nil, &Error{Reason: ReasonInvalidPayload, Err: err}
	}

	page, err := c.paint(ctx, scene, req)
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

func (c *LegacyCanvas) paint(ctx context.Context, scene *Scene, req Request) (image.Image, error) {
	dc := gg.NewContext(scene.Width, scene.Height)
	bg, err := parseColor(scene.Background, color.White)
	if err != nil {
		return nil, &Error{Reason: ReasonInvalidPayload, Err: err}
	}
	dc.SetColor(bg)
	dc.Clear()

	faces := faceCache{}
	for _, obj := range scene.Objects {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Reason: ReasonCancelled, Err: err}
		}
		switch o := obj.(type) {
		case TextObject:
			err := drawText(dc, faces, textSpec{
				text:   substitute.Substitute(o.Text, req.Data),
				x:      o.X,
				y:      o.Y,
				width:  o.Width,
				size:   o.FontSize,
				family: o.FontFamily,
				bold:   o.Bold,
				color:  o.Color,
				align:  o.Align,
			})
			if err != nil {
				return nil, &Error{Reason: ReasonInvalidPayload, Err: err}
			}
		case ImageObject:
			img, err := loadImage(ctx, c.assets, substitute.Substitute(o.Src, req.Data))
			if err != nil {
				return nil, err
			}
			if err := drawImageRect(dc, img, o.X, o.Y, o.Width, o.Height, imaging.Lanczos); err != nil {
				return nil, err
			}
		case ShapeObject:
			if err := drawShape(dc, o); err != nil {
				return nil, &Error{Reason: ReasonInvalidPayload, Err: err}
			}
		}
	}

	if req.QR != nil {
		if err := placeQR(dc, req.QR, c.placement); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}

func drawShape(dc *gg.Context, o ShapeObject) error {
	fill, err := parseColor(o.Fill, nil)
	if err != nil {
		return err
	}
	stroke, err := parseColor(o.Stroke, nil)
	if err != nil {
		return err
	}
	if o.Shape == "line" && stroke == nil {
		stroke = color.Black
	}

	dc.NewSubPath()
	switch o.Shape {
	case "rect":
		dc.DrawRectangle(o.X, o.Y, o.Width, o.Height)
	case "ellipse":
		dc.DrawEllipse(o.X+o.Width/2, o.Y+o.Height/2, o.Width/2, o.Height/2)
	case "line":
		dc.DrawLine(o.X, o.Y, o.X+o.Width, o.Y+o.Height)
		fill = nil
	}

	if fill != nil {
		dc.SetColor(fill)
		if stroke != nil {
			dc.FillPreserve()
		} else {
			dc.Fill()
		}
	}
	if stroke != nil {
		width := o.StrokeWidth
		if width <= 0 {
			width = 1
		}
		dc.SetColor(stroke)
		dc.SetLineWidth(width)
		dc.Stroke()
	}
	dc.ClearPath()
	return nil
}
