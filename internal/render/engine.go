package render

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PageSize is the fixed output page, in inches.
type PageSize struct {
	WidthIn  float64
	HeightIn float64
}

// Engine hands out layout sessions. A session is owned by exactly one
// render and must be closed on every exit path.
type Engine interface {
	Acquire(ctx context.Context) (Session, error)
}

type Session interface {
	PrintPDF(html string, size PageSize) ([]byte, error)
	Close()
}

// ChromeEngine starts a dedicated headless Chrome process per session.
type ChromeEngine struct {
	execPath string
}

func NewChromeEngine(execPath string) *ChromeEngine {
	return &ChromeEngine{execPath: execPath}
}

func (e *ChromeEngine) Acquire(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if e.execPath != "" {
		opts = append(opts, chromedp.ExecPath(e.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	release := func() {
		cancelTab()
		cancelAlloc()
	}

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		release()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &chromeSession{ctx: tabCtx, release: release}, nil
}

type chromeSession struct {
	ctx     context.Context
	release func()
}

func (s *chromeSession) PrintPDF(html string, size PageSize) ([]byte, error) {
	var pdf []byte
	err := chromedp.Run(s.ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPaperWidth(size.WidthIn).
				WithPaperHeight(size.HeightIn).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				WithPrintBackground(true).
				WithPreferCSSPageSize(false).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// Close terminates the browser process.
func (s *chromeSession) Close() {
	s.release()
}
