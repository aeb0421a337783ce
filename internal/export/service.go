package export

import (
	"context"
	"fmt"
	"time"

	"pmslens/api/internal/lens"
)

// Service provides lens export functionality
type Service struct {
	now func() time.Time
	pdf func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates a new export service
func NewService() *Service {
	return &Service{now: time.Now, pdf: exportPDF}
}

// Export generates an export of a loaded lens in the requested format
func (s *Service) Export(ctx context.Context, l lens.Lens, format Format) (*Result, error) {
	if l.State != lens.StateReady {
		return nil, ErrContentUnavailable
	}

	html, err := RenderLensHTML(templateData(l, s.now()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(l.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, l.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
