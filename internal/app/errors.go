package app

import (
	"errors"
	"fmt"
	"net/http"

	"pmslens/api/internal/backend"
	"pmslens/api/internal/entity"
	"pmslens/api/internal/export"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errUnknownResource = domainError(http.StatusNotFound, "UNKNOWN_RESOURCE", "No such list", nil)
	errUnknownView     = domainError(http.StatusNotFound, "VIEW_NOT_FOUND", "View expired or unknown", nil)
	errNoSession       = domainError(http.StatusUnauthorized, "NOT_AUTHENTICATED", "Please sign in to continue.", nil)
)

// mapError converts an error into the JSON error envelope fields.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusNotImplemented, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusConflict, "EXPORT_UNAVAILABLE", "Nothing to export", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be html or pdf", nil
	case errors.Is(err, entity.ErrMalformedDetail):
		return http.StatusBadGateway, "BAD_UPSTREAM", "Backend returned an unreadable record", nil
	}
	switch backend.Classify(err) {
	case backend.ClassUnauthenticated:
		return http.StatusUnauthorized, "UNAUTHENTICATED", "Please sign in", nil
	case backend.ClassNotFound:
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case backend.ClassForbidden:
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	return http.StatusBadGateway, "UPSTREAM_ERROR", "Backend unavailable", nil
}
