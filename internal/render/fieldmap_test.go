package render

import (
	"context"
	"image"
	"image/color"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docissue/internal/apperr"
	"github.com/nikhilbhutani/docissue/internal/models"
)

func scenarioTemplate() *models.Template {
	return &models.Template{
		ID:            uuid.New(),
		Type:          models.TemplateFieldMap,
		BackgroundRef: "bg/cert.png",
		QREnabled:     true,
		FieldMappings: []models.FieldMapping{
			{Name: "studentName", X: 100, Y: 50, Style: models.FieldStyle{FontSize: 28, Color: "#000000"}, Type: models.FieldText},
			{Name: "qr", X: 650, Y: 500, Width: 100, Height: 100, Type: models.FieldQR},
		},
	}
}

func TestFieldMap_Compose_PlacesFieldsAtExactRectangles(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 800, 600, color.White)}
	fm := NewFieldMap(assets, Placement{Size: 60, Offset: 24})
	tpl := scenarioTemplate()

	bg, err := loadImage(context.Background(), assets, tpl.BackgroundRef)
	require.NoError(t, err)

	img, warnings, err := fm.compose(context.Background(), bg, tpl, Request{
		Template: tpl,
		Data:     map[string]string{"studentName": "Asha Roy"},
		QR:       &QRSpec{PNG: solidPNG(t, 10, 10, color.Black)},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, image.Rect(0, 0, 800, 600), img.Bounds())
	assert.True(t, isDark(img.At(651, 501)), "qr top-left corner")
	assert.True(t, isDark(img.At(748, 598)), "qr bottom-right corner")
	assert.False(t, isDark(img.At(645, 495)), "outside qr rectangle")
	assert.False(t, isDark(img.At(752, 550)), "right of qr rectangle")
	assert.True(t, anyDark(img, image.Rect(100, 50, 400, 90)), "student name drawn")
	assert.False(t, anyDark(img, image.Rect(0, 0, 99, 49)), "nothing above-left of the name")
}

func TestFieldMap_Render_OutputMatchesBackground(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 800, 600, color.White)}
	fm := NewFieldMap(assets, Placement{Size: 60, Offset: 24})

	out, err := fm.Render(context.Background(), Request{
		Template: scenarioTemplate(),
		Data:     map[string]string{"studentName": "Asha Roy"},
		QR:       &QRSpec{PNG: solidPNG(t, 10, 10, color.Black)},
	})
	require.NoError(t, err)

	assert.Equal(t, ContentTypePDF, out.ContentType)
	assert.Equal(t, 800.0, out.WidthPt)
	assert.Equal(t, 600.0, out.HeightPt)
	assert.True(t, strings.HasPrefix(string(out.Data), "%PDF"))
	pages, err := pageCount(out.Data)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestFieldMap_Render_DoesNotMutateTemplate(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 200, 100, color.White)}
	tpl := scenarioTemplate()
	before := *tpl
	before.FieldMappings = append([]models.FieldMapping(nil), tpl.FieldMappings...)

	_, err := NewFieldMap(assets, Placement{Size: 20, Offset: 4}).Render(context.Background(), Request{
		Template: tpl,
		Data:     map[string]string{"studentName": "Asha"},
	})
	require.NoError(t, err)
	assert.True(t, reflect.DeepEqual(before, *tpl))
}

func TestFieldMap_Render_MissingBackground(t *testing.T) {
	fm := NewFieldMap(memAssets{}, Placement{Size: 60, Offset: 24})
	_, err := fm.Render(context.Background(), Request{Template: scenarioTemplate()})

	assertRenderReason(t, err, ReasonMissingAsset)
	assert.ErrorIs(t, err, apperr.ErrRender)

	tpl := scenarioTemplate()
	tpl.BackgroundRef = ""
	_, err = fm.Render(context.Background(), Request{Template: tpl})
	assertRenderReason(t, err, ReasonMissingAsset)
}

func TestFieldMap_Render_UnknownFieldType(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 100, 100, color.White)}
	tpl := scenarioTemplate()
	tpl.FieldMappings = []models.FieldMapping{{Name: "sig", Type: "signature"}}

	_, err := NewFieldMap(assets, Placement{Size: 20, Offset: 4}).Render(context.Background(), Request{Template: tpl})
	assertRenderReason(t, err, ReasonFieldType)
}

func TestFieldMap_Render_ImageFieldNotAnImage(t *testing.T) {
	assets := memAssets{
		"bg/cert.png":     solidPNG(t, 100, 100, color.White),
		"photos/asha.txt": []byte("not an image"),
	}
	tpl := scenarioTemplate()
	tpl.FieldMappings = []models.FieldMapping{{Name: "photo", Type: models.FieldImage, Width: 20, Height: 20}}

	_, err := NewFieldMap(assets, Placement{Size: 20, Offset: 4}).Render(context.Background(), Request{
		Template: tpl,
		Data:     map[string]string{"photo": "photos/asha.txt"},
	})
	assertRenderReason(t, err, ReasonFieldType)
}

func TestFieldMap_Compose_ImageFieldResized(t *testing.T) {
	assets := memAssets{
		"bg/cert.png":  solidPNG(t, 300, 300, color.White),
		"photos/a.png": solidPNG(t, 5, 5, color.Black),
	}
	tpl := scenarioTemplate()
	tpl.FieldMappings = []models.FieldMapping{
		{Name: "photo", Type: models.FieldImage, X: 10, Y: 20, Width: 50, Height: 80, Source: "photos/{{roll}}.png"},
	}
	bg, err := loadImage(context.Background(), assets, "bg/cert.png")
	require.NoError(t, err)

	img, _, err := NewFieldMap(assets, Placement{}).compose(context.Background(), bg, tpl, Request{
		Template: tpl,
		Data:     map[string]string{"roll": "a"},
	})
	require.NoError(t, err)
	assert.True(t, isDark(img.At(58, 98)))
	assert.False(t, isDark(img.At(62, 60)))
	assert.False(t, isDark(img.At(30, 102)))
}

func TestFieldMap_Compose_QRFieldWithoutCodeIsWarning(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 800, 600, color.White)}
	tpl := scenarioTemplate()
	bg, err := loadImage(context.Background(), assets, tpl.BackgroundRef)
	require.NoError(t, err)

	img, warnings, err := NewFieldMap(assets, Placement{Size: 60, Offset: 24}).compose(context.Background(), bg, tpl, Request{
		Template: tpl,
		Data:     map[string]string{"studentName": "Asha"},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "qr disabled")
	assert.False(t, isDark(img.At(700, 550)))
}

func TestFieldMap_Compose_DefaultCornerWhenNoQRField(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 400, 300, color.White)}
	tpl := scenarioTemplate()
	tpl.FieldMappings = tpl.FieldMappings[:1]
	bg, err := loadImage(context.Background(), assets, tpl.BackgroundRef)
	require.NoError(t, err)

	img, _, err := NewFieldMap(assets, Placement{Size: 60, Offset: 24}).compose(context.Background(), bg, tpl, Request{
		Template: tpl,
		QR:       &QRSpec{PNG: solidPNG(t, 10, 10, color.Black)},
	})
	require.NoError(t, err)
	// 400-24-60 = 316, 300-24-60 = 216
	assert.True(t, isDark(img.At(317, 217)))
	assert.True(t, isDark(img.At(375, 275)))
	assert.False(t, isDark(img.At(380, 280)))
	assert.False(t, isDark(img.At(310, 210)))
}

func TestFieldMap_Compose_TemplateQRPosition(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 400, 300, color.White)}
	tpl := scenarioTemplate()
	tpl.FieldMappings = nil
	bg, err := loadImage(context.Background(), assets, tpl.BackgroundRef)
	require.NoError(t, err)

	img, _, err := NewFieldMap(assets, Placement{Size: 60, Offset: 24}).compose(context.Background(), bg, tpl, Request{
		Template: tpl,
		QR:       &QRSpec{PNG: solidPNG(t, 10, 10, color.Black), Position: &models.QRPosition{X: 10, Y: 10, Size: 40}},
	})
	require.NoError(t, err)
	assert.True(t, isDark(img.At(12, 12)))
	assert.True(t, isDark(img.At(48, 48)))
	assert.False(t, isDark(img.At(52, 52)))
}

func TestFieldMap_Render_PDFBackground(t *testing.T) {
	assets := memAssets{"bg/cert.pdf": pdfBackground(t, 800, 600, 10, 10, 40)}
	tpl := scenarioTemplate()
	tpl.BackgroundRef = "bg/cert.pdf"

	out, err := NewFieldMap(assets, Placement{Size: 60, Offset: 24}).Render(context.Background(), Request{
		Template: tpl,
		Data:     map[string]string{"studentName": "Asha Roy"},
		QR:       &QRSpec{PNG: solidPNG(t, 10, 10, color.Black)},
	})
	require.NoError(t, err)

	assert.Equal(t, ContentTypePDF, out.ContentType)
	assert.Equal(t, 800.0, out.WidthPt)
	assert.Equal(t, 600.0, out.HeightPt)
	assert.Empty(t, out.Warnings)
	pages, err := pageCount(out.Data)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestFieldMap_Render_UnreadablePDFBackground(t *testing.T) {
	assets := memAssets{"bg/cert.pdf": []byte("%PDF-1.7\nthis is not a pdf body")}
	tpl := scenarioTemplate()
	tpl.BackgroundRef = "bg/cert.pdf"

	_, err := NewFieldMap(assets, Placement{}).Render(context.Background(), Request{Template: tpl})
	assertRenderReason(t, err, ReasonFieldType)
}

func TestFieldMap_Render_OversizedBackgroundRejectedBeforeDecode(t *testing.T) {
	assets := memAssets{"bg/cert.png": pngHeader(60000, 60000)}

	_, err := NewFieldMap(assets, Placement{}).Render(context.Background(), Request{Template: scenarioTemplate()})
	assertRenderReason(t, err, ReasonInvalidPayload)
}

func TestFieldMap_Compose_TextClippedToFieldHeight(t *testing.T) {
	assets := memAssets{"bg/cert.png": solidPNG(t, 400, 300, color.White)}
	tpl := scenarioTemplate()
	tpl.FieldMappings = []models.FieldMapping{{
		Name: "remarks", Type: models.FieldText,
		X: 20, Y: 50, Width: 120, Height: 30,
		Style: models.FieldStyle{FontSize: 18, Color: "#000000"},
	}}
	bg, err := loadImage(context.Background(), assets, tpl.BackgroundRef)
	require.NoError(t, err)

	img, _, err := NewFieldMap(assets, Placement{}).compose(context.Background(), bg, tpl, Request{
		Template: tpl,
		Data:     map[string]string{"remarks": "awarded with distinction in every paper of the final year examination"},
	})
	require.NoError(t, err)
	assert.True(t, anyDark(img, image.Rect(20, 50, 140, 80)), "first line drawn")
	assert.False(t, anyDark(img, image.Rect(0, 81, 400, 300)), "nothing below the field")
}
