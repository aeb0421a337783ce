// Package export renders a lens as a standalone document: HTML for
// printing or sharing, PDF through headless Chrome.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "html" or "pdf"; anything else is unsupported.
func ParseFormat(value string) (Format, bool) {
	switch Format(value) {
	case FormatHTML, "":
		return FormatHTML, true
	case FormatPDF:
		return FormatPDF, true
	}
	return "", false
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates the lens did not load and has nothing to export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates a format other than html or pdf.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
