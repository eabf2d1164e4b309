package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"marketplace-client/internal/metrics"
)

const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of an error response is buffered for logging.
const maxErrorBody = 64 << 10

// errorBody is a minimal struct used to extract error details from JSON responses.
type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// LoggingTransport tags every request with a request ID and logs the
// outcome. Header values are never logged.
type LoggingTransport struct {
	base    http.RoundTripper
	metrics *metrics.Recorder
}

func NewLoggingTransport(base http.RoundTripper, rec *metrics.Recorder) *LoggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &LoggingTransport{base: base, metrics: rec}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, requestID)
	}

	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(started).Milliseconds()

	attrs := []any{
		"request_id", requestID,
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", duration,
	}

	if err != nil {
		t.metrics.Request(req.Method, "error")
		slog.Error("api request", append(attrs, "error", err)...)
		return nil, err
	}

	attrs = append(attrs, "status", resp.StatusCode)
	t.metrics.Request(req.Method, statusClass(resp.StatusCode))

	if resp.StatusCode >= 400 && resp.Body != nil {
		attrs = append(attrs, errorAttrs(resp)...)
	}

	switch {
	case resp.StatusCode >= 500:
		slog.Error("api request", attrs...)
	case resp.StatusCode >= 400:
		slog.Warn("api request", attrs...)
	default:
		slog.Info("api request", attrs...)
	}

	return resp, nil
}

// errorAttrs peeks at an error body and puts it back for the caller.
func errorAttrs(resp *http.Response) []any {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	rest := resp.Body
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), rest), rest}
	if err != nil || len(data) == 0 {
		return nil
	}

	var parsed errorBody
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Error == nil {
		return nil
	}

	return []any{"error_code", parsed.Error.Code, "error_message", parsed.Error.Message}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
