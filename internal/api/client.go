package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketplace-client/internal/model"
	"marketplace-client/pkg/apierror"
)

const (
	PathSignIn  = "/api/v1/auth/login"
	PathSignUp  = "/api/v1/auth/register"
	PathRefresh = "/api/v1/auth/refresh"
	PathSignOut = "/api/v1/auth/logout"
	PathProfile = "/api/v1/auth/me"
)

// AuthPaths are the endpoints whose 401 answers concern the credentials in
// the call itself rather than the stored session.
var AuthPaths = []string{PathSignIn, PathSignUp, PathRefresh, PathSignOut}

const maxResponseBody = 1 << 20

// Client is a thin wrapper over the marketplace auth endpoints. The
// *http.Client it is given carries the auth and logging transports.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) SignIn(ctx context.Context, identifier string, secret string) (model.TokenPair, error) {
	var pair model.TokenPair
	err := c.do(ctx, http.MethodPost, PathSignIn, model.SignInRequest{Identifier: identifier, Secret: secret}, "", &pair)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := validatePair(pair, true); err != nil {
		return model.TokenPair{}, fmt.Errorf("sign in: %w", err)
	}

	return pair, nil
}

func (c *Client) SignUp(ctx context.Context, req model.SignUpRequest) (model.TokenPair, error) {
	var pair model.TokenPair
	if err := c.do(ctx, http.MethodPost, PathSignUp, req, "", &pair); err != nil {
		return model.TokenPair{}, err
	}

	if err := validatePair(pair, true); err != nil {
		return model.TokenPair{}, fmt.Errorf("sign up: %w", err)
	}

	return pair, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	var pair model.TokenPair
	if err := c.do(ctx, http.MethodPost, PathRefresh, model.RefreshRequest{RefreshToken: refreshToken}, "", &pair); err != nil {
		return model.TokenPair{}, err
	}

	if err := validatePair(pair, false); err != nil {
		return model.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	return pair, nil
}

// SignOut notifies the backend. The stored bearer token is attached by
// the transport; the response body is ignored.
func (c *Client) SignOut(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, PathSignOut, model.RefreshRequest{RefreshToken: refreshToken}, "", nil)
}

func (c *Client) Profile(ctx context.Context) (model.Identity, error) {
	return c.profile(ctx, "")
}

// ProfileWithToken fetches the profile with an explicit token instead of
// the stored one. Used to re-validate a saved account before switching.
func (c *Client) ProfileWithToken(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, fmt.Errorf("%w: token is required", model.ErrInvalidInput)
	}
	return c.profile(ctx, token)
}

func (c *Client) profile(ctx context.Context, bearer string) (model.Identity, error) {
	var identity model.Identity
	if err := c.do(ctx, http.MethodGet, PathProfile, nil, bearer, &identity); err != nil {
		return model.Identity{}, err
	}

	if identity.ID == "" || identity.Slug == "" {
		return model.Identity{}, fmt.Errorf("profile: %w: user id or slug missing", model.ErrMalformedResponse)
	}

	return identity, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}

	var envelope model.RawResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if !envelope.Success || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: empty data", model.ErrMalformedResponse)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}

	return nil
}

func decodeError(status int, data []byte) error {
	var envelope model.RawResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		return apierror.New(envelope.Error.Code, envelope.Error.Message, envelope.Error.Details, status)
	}

	return apierror.New(fmt.Sprintf("HTTP_%d", status), http.StatusText(status), "", status)
}

func validatePair(pair model.TokenPair, requireUser bool) error {
	if strings.TrimSpace(pair.Token) == "" {
		return fmt.Errorf("%w: token missing", model.ErrMalformedResponse)
	}
	if requireUser && (pair.User.ID == "" || pair.User.Slug == "") {
		return fmt.Errorf("%w: user missing", model.ErrMalformedResponse)
	}
	return nil
}

// IsMalformed reports whether err came from a 2xx answer missing required fields.
func IsMalformed(err error) bool {
	return errors.Is(err, model.ErrMalformedResponse)
}
