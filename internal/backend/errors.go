package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthenticated reports a missing credential or scope. It is returned
// before any request is attempted, and for backend 401 responses.
var ErrUnauthenticated = errors.New("unauthenticated")

// StatusError carries a non-2xx backend response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("backend status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthenticated && e.Status == http.StatusUnauthorized
}

// Class is the UI-facing error taxonomy.
type Class string

const (
	ClassNone            Class = ""
	ClassUnauthenticated Class = "unauthenticated"
	ClassNotFound        Class = "not_found"
	ClassForbidden       Class = "forbidden"
	ClassTransient       Class = "transient"
)

// Classify maps any accessor error onto the taxonomy. Network failures,
// timeouts, 5xx and anything unrecognised are transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, ErrUnauthenticated) {
		return ClassUnauthenticated
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusNotFound:
			return ClassNotFound
		case http.StatusForbidden:
			return ClassForbidden
		}
	}
	return ClassTransient
}

// StatusOf returns the backend status code carried by err, or 0.
func StatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

// Canceled reports whether err came from the caller giving up.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
