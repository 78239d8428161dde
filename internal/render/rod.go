package render

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	u "pdfapi/internal/utils"
)

// RodEngine renders with go-rod, launching one browser per document.
type RodEngine struct {
	cfg  u.Config
	opts Options
}

func NewRodEngine(cfg u.Config, opts Options) *RodEngine {
	return &RodEngine{cfg: cfg, opts: opts}
}

// browserBin resolves the Chrome binary. An empty result lets the launcher
// fall back to its own lookup.
func (e *RodEngine) browserBin() string {
	if e.cfg.PDF.ChromePath != "" {
		return e.cfg.PDF.ChromePath
	}
	if path, ok := launcher.LookPath(); ok {
		return path
	}
	return ""
}

func (e *RodEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	tmpDir, err := os.MkdirTemp("", "roddata-*")
	if err != nil {
		return nil, renderErr(fmt.Errorf("cannot create temp profile dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	l := launcher.New().
		Context(ctx).
		Headless(true).
		Leakless(false).
		UserDataDir(tmpDir).
		NoSandbox(e.cfg.PDF.ChromeNoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if bin := e.browserBin(); bin != "" {
		l = l.Bin(bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, renderErr(fmt.Errorf("launch browser: %w", err))
	}
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, renderErr(fmt.Errorf("connect browser: %w", err))
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, renderErr(fmt.Errorf("open page: %w", err))
	}
	if err := page.SetDocumentContent(html); err != nil {
		return nil, renderErr(fmt.Errorf("set content: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return nil, renderErr(fmt.Errorf("wait load: %w", err))
	}

	width, height, margin := e.opts.Paper.Width, e.opts.Paper.Height, e.opts.Margin
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: e.opts.PrintBackground,
		PaperWidth:      &width,
		PaperHeight:     &height,
		MarginTop:       &margin,
		MarginBottom:    &margin,
		MarginLeft:      &margin,
		MarginRight:     &margin,
	})
	if err != nil {
		return nil, renderErr(fmt.Errorf("print: %w", err))
	}

	pdf, err := io.ReadAll(stream)
	if err != nil {
		return nil, renderErr(fmt.Errorf("read pdf stream: %w", err))
	}
	return pdf, nil
}
