package render

import (
	"time"

	"github.com/nikhilbhutani/docissue/internal/models"
)

type Options struct {
	Timeout       time.Duration
	MaxConcurrent int
	Page          PageSize
	QR            Placement
}

// New builds the standard renderer: type dispatch over the three
// strategies, each under its own per-render timeout, behind one shared
// concurrency limit. Time spent waiting for a slot does not count against
// the timeout.
func New(opts Options, assets Assets, engine Engine) Renderer {
	reg := NewRegistry(map[models.TemplateType]Renderer{
		models.TemplateRichText:     WithTimeout(NewRichText(engine, opts.Page, opts.QR), opts.Timeout),
		models.TemplateFieldMap:     WithTimeout(NewFieldMap(assets, opts.QR), opts.Timeout),
		models.TemplateLegacyCanvas: WithTimeout(NewLegacyCanvas(assets, opts.QR), opts.Timeout),
	})
	return Limit(reg, opts.MaxConcurrent)
}
