package examapi_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/httpclient"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want examapi.Class
	}{
		{name: "nil", err: nil, want: examapi.ClassNone},
		{name: "validation", err: examapi.NewValidationError("ids", "too few"), want: examapi.ClassValidation},
		{
			name: "joined validation errors",
			err:  errors.Join(examapi.NewValidationError("title", "required"), examapi.NewValidationError("files", "required")),
			want: examapi.ClassValidation,
		},
		{
			name: "wrapped 402",
			err:  fmt.Errorf("analyze: %w", httpclient.NewHTTPError(402, "POST", "/exams/E1/analyze", "no credits")),
			want: examapi.ClassPaymentRequired,
		},
		{name: "payment sentinel", err: fmt.Errorf("x: %w", examapi.ErrPaymentRequired), want: examapi.ClassPaymentRequired},
		{name: "404", err: httpclient.NewHTTPError(404, "GET", "/analysis/A1", "missing"), want: examapi.ClassNotFound},
		{name: "500", err: httpclient.NewHTTPError(500, "POST", "/exams", "boom"), want: examapi.ClassServer},
		{name: "413", err: httpclient.NewHTTPError(413, "POST", "/exams", "too big"), want: examapi.ClassServer},
		{name: "deadline", err: fmt.Errorf("analyze: %w", context.DeadlineExceeded), want: examapi.ClassPossiblyInFlight},
		{name: "canceled", err: context.Canceled, want: examapi.ClassPossiblyInFlight},
		{name: "unexpected EOF", err: io.ErrUnexpectedEOF, want: examapi.ClassPossiblyInFlight},
		{
			name: "url error",
			err:  &url.Error{Op: "Post", URL: "http://x/exams", Err: errors.New("connection reset by peer")},
			want: examapi.ClassPossiblyInFlight,
		},
		{name: "dns error", err: &net.DNSError{Err: "no such host", Name: "api"}, want: examapi.ClassPossiblyInFlight},
		{name: "decode error", err: errors.New("failed to decode response"), want: examapi.ClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, examapi.Classify(tt.err))
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "validation failed: ids: too few", examapi.NewValidationError("ids", "too few").Error())
	assert.Equal(t, "validation failed: bad input", examapi.NewValidationError("", "bad input").Error())
}
