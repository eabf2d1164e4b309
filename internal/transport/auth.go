package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"marketplace-client/internal/event"
	"marketplace-client/internal/metrics"
)

// TokenSource reads and clears the stored bearer token. It must read from
// storage on every call so the transport never acts on a stale copy.
type TokenSource interface {
	CurrentToken(ctx context.Context) (string, bool)
	ClearToken(ctx context.Context) bool
}

// ActivityRecorder is told about every successful authenticated call so an
// idle session timer can be re-armed.
type ActivityRecorder interface {
	Touch()
}

// ScreenTracker reports whether the UI is already on an auth screen.
type ScreenTracker interface {
	OnAuthScreen() bool
}

type AuthOptions struct {
	Tokens      TokenSource
	Broadcaster event.Broadcaster
	Activity    ActivityRecorder
	Screen      ScreenTracker
	// AuthPaths are the auth endpoints; a 401 from one of them means the
	// credentials in the call were wrong, not that the session expired.
	// Calls to them never count as user activity.
	AuthPaths []string
	Metrics   *metrics.Recorder
}

// AuthTransport attaches the stored bearer token to outgoing requests and
// runs the session-expiry protocol on 401 responses.
type AuthTransport struct {
	base        http.RoundTripper
	tokens      TokenSource
	broadcaster event.Broadcaster
	activity    ActivityRecorder
	screen      ScreenTracker
	authPaths   []string
	metrics     *metrics.Recorder

	escalateMu sync.Mutex
}

func NewAuthTransport(base http.RoundTripper, opts AuthOptions) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &AuthTransport{
		base:        base,
		tokens:      opts.Tokens,
		broadcaster: opts.Broadcaster,
		activity:    opts.Activity,
		screen:      opts.Screen,
		authPaths:   opts.AuthPaths,
		metrics:     opts.Metrics,
	}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	injected := false
	sent := ""
	outgoing := req
	if req.Header.Get("Authorization") == "" {
		if token, ok := t.tokens.CurrentToken(ctx); ok {
			outgoing = req.Clone(ctx)
			outgoing.Header.Set("Authorization", "Bearer "+token)
			injected = true
			sent = token
		}
	}

	resp, err := t.base.RoundTrip(outgoing)
	if err != nil {
		// Transport failures are never treated as auth failures.
		slog.Warn("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		t.handleUnauthorized(ctx, req, injected, sent)
	case resp.StatusCode >= 400:
		slog.Warn("request rejected", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
	case injected && t.activity != nil && !t.isAuthCall(req):
		t.activity.Touch()
	}

	return resp, nil
}

// handleUnauthorized escalates only when the rejected token is still the
// stored one. A 401 for a token that was since refreshed or replaced says
// nothing about the current session.
func (t *AuthTransport) handleUnauthorized(ctx context.Context, req *http.Request, injected bool, sent string) {
	if reason, suppress := t.suppressionReason(ctx, req, injected); suppress {
		slog.Debug("unauthorized response not escalated", "path", req.URL.Path, "reason", reason)
		return
	}

	t.escalateMu.Lock()
	// A concurrent escalation may already have cleared the token.
	current, ok := t.tokens.CurrentToken(ctx)
	if !ok {
		t.escalateMu.Unlock()
		slog.Debug("unauthorized response not escalated", "path", req.URL.Path, "reason", "already_cleared")
		return
	}
	if current != sent {
		t.escalateMu.Unlock()
		slog.Debug("unauthorized response not escalated", "path", req.URL.Path, "reason", "stale_token")
		return
	}
	cleared := t.tokens.ClearToken(ctx)
	t.escalateMu.Unlock()

	slog.Warn("session rejected by server; prompting re-authentication", "path", req.URL.Path, "token_cleared", cleared)
	t.metrics.SessionExpired("unauthorized")
	if t.broadcaster != nil {
		t.broadcaster.Publish(true, event.MessageSessionExpired)
	}
}

// suppressionReason is evaluated per response; the active screen and the
// stored token both change between requests.
func (t *AuthTransport) suppressionReason(ctx context.Context, req *http.Request, injected bool) (string, bool) {
	if !injected {
		if _, ok := t.tokens.CurrentToken(ctx); !ok {
			return "no_token", true
		}
		return "caller_supplied_credentials", true
	}

	if t.isAuthCall(req) {
		return "auth_call", true
	}

	if t.screen != nil && t.screen.OnAuthScreen() {
		return "on_auth_screen", true
	}

	if _, ok := t.tokens.CurrentToken(ctx); !ok {
		return "no_token", true
	}

	return "", false
}

func (t *AuthTransport) isAuthCall(req *http.Request) bool {
	path := strings.TrimRight(req.URL.Path, "/")
	for _, authPath := range t.authPaths {
		if strings.HasSuffix(path, strings.TrimRight(authPath, "/")) {
			return true
		}
	}
	return false
}
