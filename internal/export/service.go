package export

import (
	"context"
	"fmt"
	"time"

	"phonesync/api/internal/markup"
)

// Source loads the forum to export.
type Source interface {
	Document(ctx context.Context) (markup.Document, error)
	DocumentAt(ctx context.Context, version string) (markup.Document, error)
}

// PDFRenderer turns rendered HTML into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides forum export functionality
type Service struct {
	source Source
	pdf    PDFRenderer
	now    func() time.Time
}

// NewService creates an export service. A nil renderer uses headless Chrome.
func NewService(source Source, pdf PDFRenderer) *Service {
	if pdf == nil {
		pdf = ChromePDF
	}
	return &Service{source: source, pdf: pdf, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	var (
		doc markup.Document
		err error
	)
	if req.Version == "" || req.Version == "latest" {
		doc, err = s.source.Document(ctx)
	} else {
		doc, err = s.source.DocumentAt(ctx, req.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	title := req.Title
	if title == "" {
		title = "Forum"
	}
	html, err := RenderForumHTML(TemplateDataFor(doc, title, req.Version, s.now()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(title) + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
