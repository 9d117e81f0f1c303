package render

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pageCount parses a PDF produced by an external engine and returns its
// number of pages.
func pageCount(data []byte) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unreadable pdf: %v", p)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return r.NumPage(), nil
}
