package render

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"pdfapi/internal/chrome"
	u "pdfapi/internal/utils"
)

const acquireTimeout = 5 * time.Second

// ChromeEngine starts a fresh Chrome process for every document.
type ChromeEngine struct {
	cfg  u.Config
	opts Options
}

func NewChromeEngine(cfg u.Config, opts Options) *ChromeEngine {
	return &ChromeEngine{cfg: cfg, opts: opts}
}

func (e *ChromeEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "chromedata-*")
	if err != nil {
		return nil, renderErr(fmt.Errorf("cannot create temp profile dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chrome.AllocatorOptions(e.cfg, tmpDir)...)
	defer allocCancel()
	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if e.opts.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		chromeCtx, timeoutCancel = context.WithTimeout(chromeCtx, e.opts.Timeout)
		defer timeoutCancel()
	}

	pdf, err := printHTML(chromeCtx, html, e.opts)
	if err != nil {
		return nil, renderErr(err)
	}
	return pdf, nil
}

// PooledEngine renders in tabs leased from a shared browser.
type PooledEngine struct {
	pool *chrome.Pool
	opts Options
}

func NewPooledEngine(pool *chrome.Pool, opts Options) *PooledEngine {
	return &PooledEngine{pool: pool, opts: opts}
}

// Pool exposes the underlying pool for stats.
func (e *PooledEngine) Pool() *chrome.Pool { return e.pool }

func (e *PooledEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	acquireCtx, acquireCancel := context.WithTimeout(ctx, acquireTimeout)
	tab, err := e.pool.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		return nil, renderErr(fmt.Errorf("acquire chrome tab: %w", err))
	}

	tabCtx := tab.Ctx
	// The tab context derives from the browser, not the request, so the
	// request deadline is carried over explicitly.
	stop := context.AfterFunc(ctx, func() { tab.Cancel() })
	defer stop()

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, e.opts.Timeout)
		defer cancel()
	}

	pdf, err := printHTML(tabCtx, html, e.opts)
	e.pool.Release(tab, err)
	if err != nil {
		if ctx.Err() == nil && (chrome.IsSessionInterrupted(err) || tab.BrowserLost()) {
			if restarted, rerr := e.pool.RestartIfCurrent(tab); rerr != nil {
				u.Error("Chrome pool restart failed", "error", rerr)
			} else if restarted {
				u.Warn("Chrome session interrupted; pool restarted", "error", err)
			}
		}
		return nil, renderErr(err)
	}
	return pdf, nil
}

// printHTML loads html into the tab behind ctx and prints it.
func printHTML(ctx context.Context, html string, opts Options) ([]byte, error) {
	var pdfBuf []byte
	err := chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuf, _, err = page.PrintToPDF().
				WithPrintBackground(opts.PrintBackground).
				WithPaperWidth(opts.Paper.Width).
				WithPaperHeight(opts.Paper.Height).
				WithMarginTop(opts.Margin).
				WithMarginBottom(opts.Margin).
				WithMarginLeft(opts.Margin).
				WithMarginRight(opts.Margin).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdfBuf, nil
}
