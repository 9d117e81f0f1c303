package models

import (
	"time"

	"github.com/google/uuid"
)

type TemplateType string

const (
	TemplateRichText     TemplateType = "rich_text"
	TemplateFieldMap     TemplateType = "field_map"
	TemplateLegacyCanvas TemplateType = "legacy_canvas"
)

func (t TemplateType) Valid() bool {
	switch t {
	case TemplateRichText, TemplateFieldMap, TemplateLegacyCanvas:
		return true
	}
	return false
}

// Template is read-only to the generation engine.
type Template struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	TenantID      uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	Name          string         `json:"name" db:"name"`
	TitlePattern  string         `json:"title_pattern,omitempty" db:"title_pattern"`
	Type          TemplateType   `json:"type" db:"type"`
	Content       string         `json:"content,omitempty" db:"content"`
	BackgroundRef string         `json:"background_ref,omitempty" db:"background_ref"`
	FieldMappings []FieldMapping `json:"field_mappings,omitempty" db:"field_mappings"`
	QREnabled     bool           `json:"qr_enabled" db:"qr_enabled"`
	QRPosition    *QRPosition    `json:"qr_position,omitempty" db:"qr_position"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

type FieldType string

const (
	FieldText  FieldType = "text"
	FieldImage FieldType = "image"
	FieldQR    FieldType = "qr"
)

// FieldMapping places one value at an exact pixel rectangle on a background.
type FieldMapping struct {
	Name   string     `json:"name"`
	Label  string     `json:"label,omitempty"`
	X      float64    `json:"x"`
	Y      float64    `json:"y"`
	Width  float64    `json:"width,omitempty"`
	Height float64    `json:"height,omitempty"`
	Style  FieldStyle `json:"style,omitempty"`
	Type   FieldType  `json:"type"`
	// Source overrides the value template; it defaults to {{Name}}.
	Source string `json:"source,omitempty"`
}

type FieldStyle struct {
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Color      string  `json:"color,omitempty"`
	Align      string  `json:"align,omitempty"`
	Bold       bool    `json:"bold,omitempty"`
}

// QRPosition is in the renderer's native units: pixels for raster
// templates, CSS pixels for rich text.
type QRPosition struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}
