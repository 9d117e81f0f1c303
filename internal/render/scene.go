package render

import (
	"encoding/json"
	"fmt"
	"sort"
)

const sceneVersion = 1

// Scene is the serialized legacy canvas: a flat list of drawables with
// absolute positions and an explicit z-order.
type Scene struct {
	Version    int
	Width      int
	Height     int
	Background string
	Objects    []Drawable
}

// Drawable is one of TextObject, ImageObject or ShapeObject.
type Drawable interface {
	zIndex() int
}

type TextObject struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          int     `json:"z"`
	Text       string  `json:"text"`
	Width      float64 `json:"width,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Bold       bool    `json:"bold,omitempty"`
	Color      string  `json:"color,omitempty"`
	Align      string  `json:"align,omitempty"`
}

type ImageObject struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      int     `json:"z"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	// Src is an asset reference and may contain {{tokens}}.
	Src string `json:"src"`
}

type ShapeObject struct {
	// Shape is rect, ellipse or line. A line runs from (X, Y) to
	// (X+Width, Y+Height).
	Shape       string  `json:"shape"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           int     `json:"z"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

func (o TextObject) zIndex() int  { return o.Z }
func (o ImageObject) zIndex() int { return o.Z }
func (o ShapeObject) zIndex() int { return o.Z }

type rawScene struct {
	Version    int               `json:"version"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Background string            `json:"background"`
	Objects    []json.RawMessage `json:"objects"`
}

// DecodeScene parses a serialized scene. Objects of unknown kind, or that
// fail to decode, are dropped and reported as warnings; only a malformed
// envelope or an unsupported version is an error. Objects are returned in
// paint order.
func DecodeScene(data []byte) (*Scene, []string, error) {
	var raw rawScene
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode scene: %w", err)
	}
	if raw.Version == 0 {
		raw.Version = sceneVersion
	}
	if raw.Version > sceneVersion {
		return nil, nil, fmt.Errorf("scene version %d not supported", raw.Version)
	}
	if err := checkPageSize(raw.Width, raw.Height); err != nil {
		return nil, nil, fmt.Errorf("scene: %w", err)
	}

	scene := &Scene{
		Version:    raw.Version,
		Width:      raw.Width,
		Height:     raw.Height,
		Background: raw.Background,
	}
	var warnings []string
	for i, msg := range raw.Objects {
		obj, err := decodeObject(msg)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("object %d skipped: %v", i, err))
			continue
		}
		scene.Objects = append(scene.Objects, obj)
	}
	sort.SliceStable(scene.Objects, func(i, j int) bool {
		return scene.Objects[i].zIndex() < scene.Objects[j].zIndex()
	})
	return scene, warnings, nil
}

func decodeObject(msg json.RawMessage) (Drawable, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case "text":
		var o TextObject
		err := json.Unmarshal(msg, &o)
		return o, err
	case "image":
		var o ImageObject
		if err := json.Unmarshal(msg, &o); err != nil {
			return nil, err
		}
		if o.Src == "" {
			return nil, fmt.Errorf("image without src")
		}
		return o, nil
	case "shape":
		var o ShapeObject
		if err := json.Unmarshal(msg, &o); err != nil {
			return nil, err
		}
		switch o.Shape {
		case "rect", "ellipse", "line":
			return o, nil
		}
		return nil, fmt.Errorf("unknown shape %q", o.Shape)
	default:
		return nil, fmt.Errorf("unknown kind %q", head.Kind)
	}
}
