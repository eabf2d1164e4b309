package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/mockapi"
	"marketplace-client/internal/model"
	"marketplace-client/pkg/apierror"
)

func newMockBackend(t *testing.T) (*Client, *mockapi.AuthService) {
	t.Helper()

	backend, handler, err := mockapi.New(mockapi.TestConfig())
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(server.URL+"/", server.Client()), backend
}

func newStubServer(t *testing.T, status int, body string) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return New(server.URL, server.Client())
}

func TestSignInAndProfile(t *testing.T) {
	client, _ := newMockBackend(t)
	ctx := context.Background()

	pair, err := client.SignIn(ctx, "alice", "market123")
	require.NoError(t, err)
	require.NotEmpty(t, pair.Token)
	require.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "alice", pair.User.Slug)

	identity, err := client.ProfileWithToken(ctx, pair.Token)
	require.NoError(t, err)
	assert.Equal(t, pair.User, identity)

	refreshed, err := client.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.Token, refreshed.Token)
}

func TestSignInRejected(t *testing.T) {
	client, _ := newMockBackend(t)

	_, err := client.SignIn(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, apierror.IsUnauthorized(err))

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
}

func TestProfileWithoutTokenIsUnauthorized(t *testing.T) {
	client, _ := newMockBackend(t)

	_, err := client.Profile(context.Background())
	assert.True(t, apierror.IsUnauthorized(err))

	_, err = client.ProfileWithToken(context.Background(), "")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSignInWithoutTokenIsMalformed(t *testing.T) {
	data, err := json.Marshal(model.APIResponse{
		Success: true,
		Data:    model.TokenPair{User: model.Identity{ID: "u1", Slug: "alice"}},
	})
	require.NoError(t, err)

	client := newStubServer(t, http.StatusOK, string(data))

	_, err = client.SignIn(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, model.ErrMalformedResponse)
	assert.True(t, IsMalformed(err))
}

func TestMalformedSuccessBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>"},
		{"success false", `{"success":false,"data":{"token":"t"}}`},
		{"null data", `{"success":true,"data":null}`},
		{"missing user", `{"success":true,"data":{"token":"t"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newStubServer(t, http.StatusOK, tt.body)
			_, err := client.SignIn(context.Background(), "alice", "pw")
			require.ErrorIs(t, err, model.ErrMalformedResponse)
		})
	}
}

func TestRefreshAllowsMissingUser(t *testing.T) {
	client := newStubServer(t, http.StatusOK, `{"success":true,"data":{"token":"t2"}}`)

	pair, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "t2", pair.Token)
	assert.Empty(t, pair.RefreshToken)
}

func TestErrorWithoutEnvelope(t *testing.T) {
	client := newStubServer(t, http.StatusBadGateway, "upstream down")

	err := client.SignOut(context.Background(), "")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP_502", apiErr.Code)
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
}

func TestSignOutIgnoresBody(t *testing.T) {
	client := newStubServer(t, http.StatusOK, "")
	require.NoError(t, client.SignOut(context.Background(), "r1"))
}
