package httpclient

import (
	"fmt"
	"time"
)

// HTTPError represents a non-2xx response from the backend
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Code       string
	Message    string
	RetryAfter time.Duration
}

// Error returns the error message
func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d for %s %s: %s (%s)", e.StatusCode, e.Method, e.URL, e.Message, e.Code)
	}
	return fmt.Sprintf("HTTP %d for %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, method, url, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Method:     method,
		URL:        url,
		Message:    message,
	}
}

// Retryable reports whether the status code is worth retrying for idempotent requests
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode <= 599)
}
