package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/app"
	"marketplace-client/internal/config"
	"marketplace-client/internal/mockapi"
	"marketplace-client/internal/model"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()

	_, handler, err := mockapi.New(mockapi.TestConfig())
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	a, err := app.New(context.Background(), &config.Config{
		APIBaseURL:         server.URL,
		HTTPTimeout:        5 * time.Second,
		StoreDir:           t.TempDir(),
		SecureBackend:      "none",
		PlainBackend:       "memory",
		SessionTimeoutMode: config.TimeoutOff,
		RefreshDedup:       true,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func runCommand(t *testing.T, a *app.App, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), a, args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	a := newTestApp(t)

	out, err := runCommand(t, a, "market123\n", "signin", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Alice (alice)")

	_, err = runCommand(t, a, "", "signin", "-secret", "market123", "bob")
	require.NoError(t, err)

	out, err = runCommand(t, a, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "(bob)")

	_, err = runCommand(t, a, "", "switch")
	require.NoError(t, err)

	out, err = runCommand(t, a, "", "accounts")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "bob"), strings.Index(out, "alice"))

	_, err = runCommand(t, a, "", "whoami")
	require.ErrorIs(t, err, model.ErrNotAuthenticated)

	out, err = runCommand(t, a, "", "resume", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "(alice)")

	out, err = runCommand(t, a, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated")

	_, err = runCommand(t, a, "", "forget", "bob")
	require.NoError(t, err)

	_, err = runCommand(t, a, "", "signout")
	require.NoError(t, err)
	_, err = runCommand(t, a, "", "signout")
	require.NoError(t, err)

	out, err = runCommand(t, a, "", "accounts")
	require.NoError(t, err)
	assert.NotContains(t, out, "bob")
	assert.Contains(t, out, "alice")
}

func TestSignUpCommand(t *testing.T) {
	a := newTestApp(t)

	out, err := runCommand(t, a, "", "signup", "-secret", "pw", "-name", "Carol", "carol")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Carol (carol)")
}

func TestUsageErrors(t *testing.T) {
	a := newTestApp(t)

	for _, args := range [][]string{{}, {"bogus"}, {"resume"}, {"forget", "a", "b"}, {"signin"}} {
		_, err := runCommand(t, a, "", args...)
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}
