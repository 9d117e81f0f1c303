package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
)

const defaultFontSize = 16

type fontKey struct {
	family string
	bold   bool
}

var fontFiles = map[fontKey][]byte{
	{"sans", false}:   goregular.TTF,
	{"sans", true}:    gobold.TTF,
	{"italic", false}: goitalic.TTF,
	{"italic", true}:  goitalic.TTF,
	{"mono", false}:   gomono.TTF,
	{"mono", true}:    gomonobold.TTF,
}

var (
	parsedMu sync.Mutex
	parsed   = map[fontKey]*truetype.Font{}
)

func normalizeFamily(family string) string {
	f := strings.ToLower(strings.TrimSpace(family))
	switch {
	case strings.Contains(f, "mono"), strings.Contains(f, "courier"):
		return "mono"
	case strings.Contains(f, "italic"):
		return "italic"
	default:
		return "sans"
	}
}

func loadFont(family string, bold bool) (*truetype.Font, error) {
	key := fontKey{normalizeFamily(family), bold}
	parsedMu.Lock()
	defer parsedMu.Unlock()
	if f, ok := parsed[key]; ok {
		return f, nil
	}
	f, err := truetype.Parse(fontFiles[key])
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", key.family, err)
	}
	parsed[key] = f
	return f, nil
}

// faceCache hands out font faces for a single render. Faces keep glyph
// caches and must not be shared between goroutines.
type faceCache map[string]font.Face

func (c faceCache) face(family string, bold bool, size float64) (font.Face, error) {
	if size <= 0 {
		size = defaultFontSize
	}
	key := fmt.Sprintf("%s/%t/%.2f", normalizeFamily(family), bold, size)
	if f, ok := c[key]; ok {
		return f, nil
	}
	ttf, err := loadFont(family, bold)
	if err != nil {
		return nil, err
	}
	f := truetype.NewFace(ttf, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull})
	c[key] = f
	return f, nil
}
