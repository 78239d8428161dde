package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"pdfapi/internal/chrome"
	"pdfapi/internal/credentials"
	"pdfapi/internal/domain"
	"pdfapi/internal/render"
	u "pdfapi/internal/utils"
)

// CredentialLocal is the fiber Locals key holding the authenticated *domain.Credential.
const CredentialLocal = "credential"

const (
	pdfContentType = "application/pdf"
	// maxUploadAttempts bounds name redraws when a conditional upload finds the key taken.
	maxUploadAttempts = 5
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Templater interface {
	Render(tmpl string, vars map[string]any) (string, error)
}

type Namer interface {
	Generate(ctx context.Context, prefix string) (string, error)
	Fallback() (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PDFService bundles configuration and the pipeline components.
type PDFService struct {
	Config    *u.Config
	Creds     credentials.Store
	Fetcher   Fetcher
	Templates Templater
	Names     Namer
	Engine    render.Engine
	Storage   Uploader
	// Pool is nil when tabs are not pooled.
	Pool   *chrome.Pool
	Checks []Check
}

// HandleCreate runs fetch, template, naming, render and upload for one
// request and answers with the public URL of the stored PDF.
func (svc *PDFService) HandleCreate(c *fiber.Ctx) error {
	var req domain.PDFRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
		}
	}

	ctx := c.UserContext()
	if timeout := svc.Config.Server.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url, err := svc.create(ctx, req)
	if err != nil {
		u.Error("PDF creation failed",
			"stage", domain.Stage(err),
			"error", err,
			"request_id", requestID(c),
		)
		return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
	}

	u.Info("PDF created", "url", url, "request_id", requestID(c))
	return c.JSON(domain.PDFResponse{PDFURL: url})
}

func (svc *PDFService) create(ctx context.Context, req domain.PDFRequest) (string, error) {
	html, err := svc.buildHTML(ctx, req)
	if err != nil {
		return "", err
	}

	name, err := svc.drawName(ctx, req.Name)
	if err != nil {
		return "", err
	}

	pdf, err := svc.Engine.RenderPDF(ctx, html)
	if err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		url, err := svc.Storage.Upload(ctx, svc.Config.Storage.Bucket, name, pdf, pdfContentType)
		if err == nil {
			return url, nil
		}
		if !errors.Is(err, domain.ErrObjectExists) || attempt >= maxUploadAttempts {
			return "", err
		}
		u.Warn("Artifact name taken, drawing a new one", "name", name, "attempt", attempt)
		if name, err = svc.drawName(ctx, req.Name); err != nil {
			return "", err
		}
	}
}

// buildHTML resolves the document source. A URL takes precedence over inline
// content; with neither the document is empty.
func (svc *PDFService) buildHTML(ctx context.Context, req domain.PDFRequest) (string, error) {
	var source string
	switch {
	case req.File.URL != "":
		fetched, err := svc.Fetcher.Fetch(ctx, req.File.URL)
		if err != nil {
			return "", err
		}
		source = fetched
	case req.File.Content != "":
		source = req.File.Content
	default:
		return "", nil
	}
	return svc.Templates.Render(source, req.Vars)
}

func (svc *PDFService) drawName(ctx context.Context, prefix string) (string, error) {
	var (
		name string
		err  error
	)
	if prefix == "" {
		name, err = svc.Names.Fallback()
	} else {
		name, err = svc.Names.Generate(ctx, prefix)
	}
	if err != nil && !errors.Is(err, domain.ErrUpload) {
		return "", fmt.Errorf("%w: name: %w", domain.ErrInternal, err)
	}
	return name, err
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
