package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/go-pdf/fpdf"
)

const lineSpacing = 1.2

// Page and image limits. Rasters are held uncompressed, so both bound
// memory per render.
const (
	maxPageSide   = 10000
	maxPagePixels = 40_000_000
)

func checkPageSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("page has no size (%dx%d)", w, h)
	}
	if w > maxPageSide || h > maxPageSide || w*h > maxPagePixels {
		return fmt.Errorf("page %dx%d exceeds %dpx per side or %d pixels", w, h, maxPageSide, maxPagePixels)
	}
	return nil
}

// parseColor accepts #rgb, #rrggbb and #rrggbbaa. An empty string yields
// fallback.
func parseColor(s string, fallback color.Color) (color.Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return fallback, nil
	}
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func parseAlign(s string) gg.Align {
	switch strings.ToLower(s) {
	case "center", "centre":
		return gg.AlignCenter
	case "right":
		return gg.AlignRight
	default:
		return gg.AlignLeft
	}
}

type textSpec struct {
	text   string
	x, y   float64
	width  float64
	height float64
	size   float64
	family string
	bold   bool
	color  string
	align  string
}

// drawText draws a wrapped block whose top-left corner is (x, y). With a
// positive height, lines past the box are clipped.
func drawText(dc *gg.Context, faces faceCache, t textSpec) error {
	if t.text == "" {
		return nil
	}
	face, err := faces.face(t.family, t.bold, t.size)
	if err != nil {
		return err
	}
	col, err := parseColor(t.color, color.Black)
	if err != nil {
		return err
	}
	width := t.width
	if width <= 0 {
		width = float64(dc.Width()) - t.x
	}
	dc.SetFontFace(face)
	dc.SetColor(col)
	if t.height > 0 {
		dc.DrawRectangle(t.x, t.y, width, t.height)
		dc.Clip()
		defer dc.ResetClip()
	}
	dc.DrawStringWrapped(t.text, t.x, t.y, 0, 0, width, lineSpacing, parseAlign(t.align))
	return nil
}

// drawImageRect scales img to exactly w×h and draws it at (x, y). A zero
// dimension keeps the image's own size on that axis.
func drawImageRect(dc *gg.Context, img image.Image, x, y, w, h float64, filter imaging.ResampleFilter) error {
	iw, ih := int(w+0.5), int(h+0.5)
	if iw > 0 || ih > 0 {
		if iw <= 0 {
			iw = img.Bounds().Dx()
		}
		if ih <= 0 {
			ih = img.Bounds().Dy()
		}
		if err := checkPageSize(iw, ih); err != nil {
			return errorf(ReasonInvalidPayload, "image rectangle: %w", err)
		}
		img = imaging.Resize(img, iw, ih, filter)
	}
	dc.DrawImage(img, int(x+0.5), int(y+0.5))
	return nil
}

func loadImage(ctx context.Context, assets Assets, ref string) (image.Image, error) {
	raw, err := assets.ReadAsset(ctx, ref)
	if err != nil {
		return nil, errorf(ReasonMissingAsset, "%s: %w", ref, err)
	}
	return decodeImage(ref, raw)
}

// decodeImage checks the declared dimensions before decoding, so an
// oversized asset is rejected without allocating its pixels.
func decodeImage(ref string, raw []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, errorf(ReasonFieldType, "%s is not a decodable image: %w", ref, err)
	}
	if err := checkPageSize(cfg.Width, cfg.Height); err != nil {
		return nil, errorf(ReasonInvalidPayload, "%s: %w", ref, err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errorf(ReasonFieldType, "%s is not a decodable image: %w", ref, err)
	}
	return img, nil
}

func decodePNG(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errorf(ReasonInvalidPayload, "qr image: %w", err)
	}
	return img, nil
}

// flatten composites img over white so the page carries no alpha channel.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out
}

// encodePDF wraps a raster as a one-page PDF whose page measures one point
// per pixel.
func encodePDF(img image.Image) (*Output, error) {
	page := flatten(img)
	w, h := float64(page.Bounds().Dx()), float64(page.Bounds().Dy())

	var raster bytes.Buffer
	if err := imaging.Encode(&raster, page, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode page raster: %w", err)
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("page", opts, &raster)
	pdf.ImageOptions("page", 0, 0, w, h, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return &Output{Data: out.Bytes(), ContentType: ContentTypePDF, WidthPt: w, HeightPt: h}, nil
}
