package examapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/examsight/examsync/internal/httpclient"
)

// Class groups errors by how the sync engine reacts to them
type Class string

const (
	// ClassNone is returned for a nil error
	ClassNone Class = ""

	// ClassValidation means the request was rejected before any network call
	ClassValidation Class = "validation"

	// ClassPaymentRequired means the account has insufficient credits (HTTP 402)
	ClassPaymentRequired Class = "payment_required"

	// ClassNotFound means the resource does not exist (HTTP 404)
	ClassNotFound Class = "not_found"

	// ClassPossiblyInFlight means no response was received; the server may still be working
	ClassPossiblyInFlight Class = "possibly_in_flight"

	// ClassServer covers every other failure
	ClassServer Class = "server"
)

var (
	// ErrPaymentRequired is matched by errors for HTTP 402 responses
	ErrPaymentRequired = errors.New("payment required")

	// ErrNotFound is matched by errors for HTTP 404 responses
	ErrNotFound = errors.New("not found")

	// ErrFileTooLarge is matched by errors for HTTP 413 responses
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidFileType is matched by errors for HTTP 422 responses
	ErrInvalidFileType = errors.New("invalid file type")
)

// ValidationError is returned when input is rejected before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for the given field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// mapError attaches the taxonomy sentinels to HTTP errors returned by the transport
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	switch httpErr.StatusCode {
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ErrPaymentRequired, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %w", ErrFileTooLarge, err)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", ErrInvalidFileType, err)
	default:
		return err
	}
}

// Classify maps an error to the class that decides how callers react to it
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ClassValidation
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusPaymentRequired:
			return ClassPaymentRequired
		case http.StatusNotFound:
			return ClassNotFound
		default:
			return ClassServer
		}
	}
	if errors.Is(err, ErrPaymentRequired) {
		return ClassPaymentRequired
	}
	if errors.Is(err, ErrNotFound) {
		return ClassNotFound
	}

	if IsPossiblyInFlight(err) {
		return ClassPossiblyInFlight
	}
	return ClassServer
}

// IsPossiblyInFlight reports whether err means the request may have reached
// the server but no response came back: timeouts, dropped connections and
// transport failures.
func IsPossiblyInFlight(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
