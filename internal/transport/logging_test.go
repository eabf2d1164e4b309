package transport

import (
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/metrics"
)

func TestLoggingTransportSetsRequestID(t *testing.T) {
	var seen string
	rt := NewLoggingTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Get(RequestIDHeader)
		return respond(http.StatusOK, "{}")(req)
	}), nil)

	req := newRequest(t, "/api/v1/listings")
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)

	assert.NotEmpty(t, seen)
	assert.Empty(t, req.Header.Get(RequestIDHeader))

	req.Header.Set(RequestIDHeader, "fixed")
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "fixed", seen)
}

func TestLoggingTransportRestoresErrorBody(t *testing.T) {
	const body = `{"success":false,"error":{"code":"NOT_FOUND","message":"missing"}}`
	rt := NewLoggingTransport(respond(http.StatusNotFound, body), nil)

	resp, err := rt.RoundTrip(newRequest(t, "/api/v1/listings/9"))
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	require.NoError(t, resp.Body.Close())
}

func TestLoggingTransportCountsRequests(t *testing.T) {
	rec := metrics.New(prometheus.NewRegistry())
	rt := NewLoggingTransport(respond(http.StatusTooManyRequests, "{}"), rec)

	_, err := rt.RoundTrip(newRequest(t, "/x"))
	require.NoError(t, err)

	_, _, _, _, requests := rec.Counters()
	assert.Equal(t, float64(1), testutil.ToFloat64(requests.WithLabelValues(http.MethodGet, "4xx")))
}

func TestErrorAttrs(t *testing.T) {
	resp, err := respond(http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST","message":"nope"}}`)(newRequest(t, "/"))
	require.NoError(t, err)

	assert.Equal(t, []any{"error_code", "BAD_REQUEST", "error_message", "nope"}, errorAttrs(resp))

	plain, err := respond(http.StatusBadGateway, "upstream down")(newRequest(t, "/"))
	require.NoError(t, err)
	assert.Nil(t, errorAttrs(plain))
	data, _ := io.ReadAll(plain.Body)
	assert.Equal(t, "upstream down", string(data))
}
