package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	ErrPDFTooLarge = errors.New("pdf exceeds allowed size")
	ErrInvalidPDF  = errors.New("engine produced an invalid pdf")
)

// ValidatingEngine rejects output that is oversized or does not parse as a
// PDF with at least one page.
type ValidatingEngine struct {
	next     Engine
	parse    bool
	maxBytes int
}

func NewValidatingEngine(next Engine, parse bool, maxBytes int) *ValidatingEngine {
	return &ValidatingEngine{next: next, parse: parse, maxBytes: maxBytes}
}

func (e *ValidatingEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	pdf, err := e.next.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	if err := e.check(pdf); err != nil {
		return nil, renderErr(err)
	}
	return pdf, nil
}

func (e *ValidatingEngine) check(pdf []byte) error {
	if e.maxBytes > 0 && len(pdf) > e.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrPDFTooLarge, len(pdf), e.maxBytes)
	}
	if !e.parse {
		return nil
	}
	pages, err := api.PageCount(bytes.NewReader(pdf), model.NewDefaultConfiguration())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPDF, err)
	}
	if pages < 1 {
		return fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	return nil
}
