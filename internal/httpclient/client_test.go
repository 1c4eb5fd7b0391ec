package httpclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examsight/examsync/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newClient(t *testing.T, baseURL string, opts ...httpclient.Option) *httpclient.Client {
	t.Helper()
	opts = append([]httpclient.Option{httpclient.WithBackOff(fastBackOff)}, opts...)
	client, err := httpclient.New(baseURL, opts...)
	require.NoError(t, err)
	return client
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid base URL", baseURL: "https://api.example.com/api/v1", wantErr: false},
		{name: "trailing slash is trimmed", baseURL: "https://api.example.com/api/v1/", wantErr: false},
		{name: "empty base URL", baseURL: "  ", wantErr: true},
		{name: "relative base URL", baseURL: "api/v1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, err := httpclient.New(tt.baseURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://api.example.com/api/v1", client.BaseURL())
		})
	}
}

func TestClient_DoJSON_SetsHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth, gotUA, gotRequestID, gotContentType, gotQuery string
	var gotBody map[string]any
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get(httpclient.RequestIDHeader)
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"analysis_id":"A1","status":"analyzing"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL,
		httpclient.WithUserAgent("examsync/test"),
		httpclient.WithTokenSource(httpclient.TokenSourceFunc(func(context.Context) (string, error) {
			return "tok-123", nil
		})),
	)

	var out struct {
		AnalysisID string `json:"analysis_id"`
	}
	err := client.DoJSON(context.Background(), http.MethodPost, "/exams/E1/analyze",
		map[string][]string{"source": {"cli"}}, map[string]bool{"force_reanalyze": true}, &out)

	require.NoError(t, err)
	assert.Equal(t, "A1", out.AnalysisID)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "examsync/test", gotUA)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "source=cli", gotQuery)
	assert.Equal(t, true, gotBody["force_reanalyze"])
}

func TestClient_Do_NoTokenWhenEmpty(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newClient(t, server.URL, httpclient.WithTokenSource(httpclient.TokenSourceFunc(
		func(context.Context) (string, error) { return "", nil })))

	require.NoError(t, client.DoJSON(context.Background(), http.MethodDelete, "/exams/E1", nil, nil, nil))
	assert.Empty(t, gotAuth)
}

func TestClient_Do_TokenSourceError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tokenErr := errors.New("token expired")
	client := newClient(t, server.URL, httpclient.WithTokenSource(httpclient.TokenSourceFunc(
		func(context.Context) (string, error) { return "", tokenErr })))

	err := client.DoJSON(context.Background(), http.MethodGet, "/exams", nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, tokenErr)
	assert.Equal(t, int32(0), calls.Load(), "no request should be sent without a token")
}

func TestClient_Do_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		statusCode      int
		responseBody    string
		expectedMessage string
		expectedCode    string
	}{
		{
			name:            "402 with message payload",
			statusCode:      http.StatusPaymentRequired,
			responseBody:    `{"message":"insufficient credits","code":"CREDITS"}`,
			expectedMessage: "insufficient credits",
			expectedCode:    "CREDITS",
		},
		{
			name:            "404 with detail payload",
			statusCode:      http.StatusNotFound,
			responseBody:    `{"detail":"exam not found"}`,
			expectedMessage: "exam not found",
		},
		{
			name:            "422 with nested error",
			statusCode:      http.StatusUnprocessableEntity,
			responseBody:    `{"error":{"message":"invalid file type","code":"INVALID_FILE"}}`,
			expectedMessage: "invalid file type",
			expectedCode:    "INVALID_FILE",
		},
		{
			name:            "413 with plain text body",
			statusCode:      http.StatusRequestEntityTooLarge,
			responseBody:    "too large",
			expectedMessage: "413 Request Entity Too Large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			client := newClient(t, server.URL)
			err := client.DoJSON(context.Background(), http.MethodPost, "/exams", nil, nil, nil)

			var httpErr *httpclient.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.statusCode, httpErr.StatusCode)
			assert.Equal(t, tt.expectedMessage, httpErr.Message)
			assert.Equal(t, tt.expectedCode, httpErr.Code)
			assert.Equal(t, http.MethodPost, httpErr.Method)
		})
	}
}

func TestClient_Do_RetriesIdempotentRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"analysis_id":"A9"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, httpclient.WithMaxRetries(3))

	var out struct {
		AnalysisID string `json:"analysis_id"`
	}
	require.NoError(t, client.DoJSON(context.Background(), http.MethodGet, "/exams/E1/analysis", nil, nil, &out))
	assert.Equal(t, "A9", out.AnalysisID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Do_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newClient(t, server.URL, httpclient.WithMaxRetries(2))
	err := client.DoJSON(context.Background(), http.MethodGet, "/exams", nil, nil, nil)

	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Do_DoesNotRetryMutations(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newClient(t, server.URL, httpclient.WithMaxRetries(5))
	err := client.DoJSON(context.Background(), http.MethodPost, "/exams/E1/analyze", nil, nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Do_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	err := client.DoJSON(context.Background(), http.MethodGet, "/analysis/missing", nil, nil, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Do_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	client := newClient(t, server.URL, httpclient.WithTimeout(20*time.Millisecond))
	err := client.DoJSON(context.Background(), http.MethodPost, "/exams/E1/analyze", nil, nil, nil)

	require.Error(t, err)
	var httpErr *httpclient.HTTPError
	assert.False(t, errors.As(err, &httpErr), "timeouts must not look like HTTP errors")
}

func TestClient_Do_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := newClient(t, server.URL)
	var out map[string]any
	err := client.DoJSON(context.Background(), http.MethodGet, "/exams", nil, nil, &out)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}
