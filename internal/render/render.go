// Package render turns an HTML document into PDF bytes using a headless
// browser. Engines are composed: a browser engine at the bottom, optionally
// wrapped by output validation and a Redis cache.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfapi/internal/chrome"
	"pdfapi/internal/domain"
	u "pdfapi/internal/utils"
)

// Engine renders a complete HTML document to PDF. Implementations release
// every browser resource they start before returning, on success or failure.
type Engine interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Options are the page settings applied to every document.
type Options struct {
	Paper           u.PaperSize
	Margin          float64
	PrintBackground bool
	Timeout         time.Duration
}

// OptionsFromConfig reads paper, margin and timeout from the pdf section.
func OptionsFromConfig(cfg u.Config) Options {
	return Options{
		Paper:           cfg.DefaultPaperSize(),
		Margin:          cfg.PDF.Margin,
		PrintBackground: cfg.PDF.PrintBackground,
		Timeout:         time.Duration(cfg.PDF.TimeoutSecs) * time.Second,
	}
}

// New builds the engine stack described by cfg. pool may be nil when
// pdf.chrome_pool_size is zero; rdb may be nil to disable caching.
func New(cfg u.Config, pool *chrome.Pool, rdb *redis.Client) (Engine, error) {
	opts := OptionsFromConfig(cfg)

	var engine Engine
	switch cfg.PDF.Engine {
	case u.EngineChromedp, "":
		if pool != nil {
			engine = NewPooledEngine(pool, opts)
		} else {
			engine = NewChromeEngine(cfg, opts)
		}
	case u.EngineRod:
		engine = NewRodEngine(cfg, opts)
	default:
		return nil, fmt.Errorf("unknown pdf engine %q", cfg.PDF.Engine)
	}

	if cfg.PDF.ValidateOutput || cfg.Limits.MaxPDFBytes > 0 {
		engine = NewValidatingEngine(engine, cfg.PDF.ValidateOutput, cfg.Limits.MaxPDFBytes)
	}
	if rdb != nil && cfg.Cache.PDFCacheEnabled {
		engine = NewCachedEngine(engine, rdb, cacheScope(cfg, opts), cfg.Cache.PDFCacheTTL)
	}
	return engine, nil
}

func cacheScope(cfg u.Config, opts Options) string {
	engine := cfg.PDF.Engine
	if engine == "" {
		engine = u.EngineChromedp
	}
	return fmt.Sprintf("%s|%.2fx%.2f|%.2f|%t", engine, opts.Paper.Width, opts.Paper.Height, opts.Margin, opts.PrintBackground)
}

func renderErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrRender, err)
}
