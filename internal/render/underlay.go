package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
)

const mediaBox = "/MediaBox"

func isPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF"))
}

// pdfPage is the first page of a background PDF, imported into a new
// document as a reusable template.
type pdfPage struct {
	doc           *fpdf.Fpdf
	importer      *gofpdi.Importer
	tpl           int
	width, height float64
}

// importFirstPage reads page 1 of data. The importer panics on malformed
// input, so panics come back as errors.
func importFirstPage(data []byte) (p *pdfPage, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("unreadable pdf: %v", r)
		}
	}()

	doc := fpdf.NewCustom(&fpdf.InitType{UnitStr: "pt"})
	imp := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(data))
	tpl := imp.ImportPageFromStream(doc, &rs, 1, mediaBox)
	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("import page: %w", err)
	}

	box := imp.GetPageSizes()[1][mediaBox]
	w, h := box["w"], box["h"]
	if w <= 0 || h <= 0 {
		return nil, errors.New("first page has no media box")
	}
	return &pdfPage{doc: doc, importer: imp, tpl: tpl, width: w, height: h}, nil
}

// overlay writes a one-page PDF of the imported page with layer drawn on
// top, one point per layer pixel.
func (p *pdfPage) overlay(layer image.Image) (*Output, error) {
	var raster bytes.Buffer
	if err := imaging.Encode(&raster, layer, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode field layer: %w", err)
	}

	doc := p.doc
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPageFormat("P", fpdf.SizeType{Wd: p.width, Ht: p.height})
	p.importer.UseImportedTemplate(doc, p.tpl, 0, 0, p.width, p.height)

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	doc.RegisterImageOptionsReader("fields", opts, &raster)
	doc.ImageOptions("fields", 0, 0, p.width, p.height, false, opts, 0, "")

	var out bytes.Buffer
	if err := doc.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return &Output{Data: out.Bytes(), ContentType: ContentTypePDF, WidthPt: p.width, HeightPt: p.height}, nil
}
