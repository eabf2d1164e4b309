//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/event"
)

func TestSwitchUserScenarioAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	first := s.start(t)
	_, err := first.Session.SignIn(ctx, "alice", "market123")
	require.NoError(t, err)
	_, err = first.Session.SignIn(ctx, "bob", "market123")
	require.NoError(t, err)
	first.Close()

	second := s.start(t)
	require.Equal(t, "bob", second.Session.CurrentUser(ctx).Slug)
	require.NoError(t, second.Session.SwitchUser(ctx))
	second.Close()

	third := s.start(t)
	accounts := third.Session.Accounts(ctx)
	require.Len(t, accounts, 2)
	assert.Equal(t, "bob", accounts[0].IdentitySlug)
	assert.Equal(t, "alice", accounts[1].IdentitySlug)
	assert.Nil(t, third.Session.CurrentUser(ctx))

	identity, err := third.Session.ResumeAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Slug)
}

func TestCredentialsAreNotStoredInPlaintext(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	a := s.start(t)
	result, err := a.Session.SignIn(ctx, "alice", "market123")
	require.NoError(t, err)

	err = filepath.WalkDir(s.cfg.StoreDir, func(path string, d os.DirEntry, walkErr error) error {
		require.NoError(t, walkErr)
		if d.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		assert.False(t, strings.Contains(string(data), result.Token), "token found in %s", path)
		return nil
	})
	require.NoError(t, err)
}

func TestServerPurgePromptsOnce(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	a := s.start(t)

	_, err := a.Session.SignIn(ctx, "alice", "market123")
	require.NoError(t, err)

	var prompts []event.SessionState
	unsubscribe := a.Broadcaster.Subscribe(func(state event.SessionState) {
		if state.Visible {
			prompts = append(prompts, state)
		}
	})
	t.Cleanup(unsubscribe)

	s.backend.RevokeAll()

	for i := 0; i < 3; i++ {
		resp, err := a.HTTPClient.Get(s.server.URL + "/api/v1/listings")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	require.Len(t, prompts, 1)
	assert.Equal(t, event.MessageSessionExpired, prompts[0].Message)
	assert.False(t, a.Session.EnsureAuthenticated(ctx))
}
