//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketplace-client/internal/app"
	"marketplace-client/internal/config"
	"marketplace-client/internal/mockapi"
)

type stack struct {
	backend *mockapi.AuthService
	server  *httptest.Server
	cfg     *config.Config
}

// newStack starts the development backend and returns a client config that
// persists to encrypted files plus sqlite under a temp dir.
func newStack(t *testing.T) *stack {
	t.Helper()

	backend, handler, err := mockapi.New(mockapi.TestConfig())
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		APIBaseURL:         server.URL,
		HTTPTimeout:        5 * time.Second,
		StoreDir:           t.TempDir(),
		SecureBackend:      "encrypted-file",
		SecurePassphrase:   "integration-passphrase",
		PlainBackend:       "sqlite",
		SessionTimeoutMode: config.TimeoutOff,
		SessionTimeout:     time.Minute,
		RefreshDedup:       true,
		SignInRateLimitRPM: 100,
		MetricsEnabled:     true,
	}
	require.NoError(t, cfg.Validate())

	return &stack{backend: backend, server: server, cfg: cfg}
}

// start builds a fresh App over the same directory, as a new process would.
func (s *stack) start(t *testing.T) *app.App {
	t.Helper()

	a, err := app.New(context.Background(), s.cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}
