package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/api"
	"marketplace-client/internal/event"
	"marketplace-client/internal/metrics"
	"marketplace-client/internal/mockapi"
	"marketplace-client/internal/screen"
	"marketplace-client/internal/storage"
	"marketplace-client/internal/transport"
)

type harness struct {
	ctx         context.Context
	service     *SessionService
	store       *storage.CredentialStore
	broadcaster *event.InMemoryBroadcaster
	tracker     *screen.Tracker
	timer       *SessionTimer
	metrics     *metrics.Recorder
	backend     *mockapi.AuthService
	server      *httptest.Server
	httpClient  *http.Client
	events      *eventLog
}

type harnessConfig struct {
	options     Options
	timerMode   string
	timeout     time.Duration
	plain       storage.Backend
	secure      storage.Backend
	backendConf func(*mockapi.Config)
	handler     http.Handler
}

// newHarness wires the real transport chain and api client against an
// in-process backend, mirroring the production wiring.
func newHarness(t *testing.T, configure ...func(*harnessConfig)) *harness {
	t.Helper()

	hc := harnessConfig{
		plain:  storage.NewMemoryBackend(),
		secure: storage.NewMemoryBackend(),
	}
	for _, c := range configure {
		c(&hc)
	}

	h := &harness{ctx: context.Background()}

	if hc.handler == nil {
		cfg := mockapi.TestConfig()
		if hc.backendConf != nil {
			hc.backendConf(&cfg)
		}
		backend, handler, err := mockapi.New(cfg)
		require.NoError(t, err)
		h.backend = backend
		hc.handler = handler
	}

	h.server = httptest.NewServer(hc.handler)
	t.Cleanup(h.server.Close)

	h.metrics = metrics.New(prometheus.NewRegistry())
	h.store = storage.NewCredentialStore(hc.secure, hc.plain, h.metrics)
	h.broadcaster = event.NewBroadcaster()
	h.tracker = screen.NewTracker()
	h.timer = NewSessionTimer(hc.timerMode, hc.timeout)
	t.Cleanup(h.timer.Stop)

	tokens := NewTokenStore(h.store)
	authTransport := transport.NewAuthTransport(
		transport.NewLoggingTransport(http.DefaultTransport, h.metrics),
		transport.AuthOptions{
			Tokens:      tokens,
			Broadcaster: h.broadcaster,
			Activity:    h.timer,
			Screen:      h.tracker,
			AuthPaths:   api.AuthPaths,
			Metrics:     h.metrics,
		},
	)
	h.httpClient = &http.Client{Transport: authTransport, Timeout: 5 * time.Second}

	opts := hc.options
	opts.Store = h.store
	opts.Tokens = tokens
	opts.Timer = h.timer
	opts.Broadcaster = h.broadcaster
	opts.Metrics = h.metrics
	if opts.API == nil {
		opts.API = api.New(h.server.URL, h.httpClient)
	}

	service, err := NewSessionService(opts)
	require.NoError(t, err)
	h.service = service

	h.events = &eventLog{}
	unsubscribe := h.broadcaster.Subscribe(h.events.record)
	t.Cleanup(unsubscribe)

	return h
}

func (h *harness) signIn(t *testing.T, slug string) SignInResult {
	t.Helper()
	result, err := h.service.SignIn(h.ctx, slug, "market123")
	require.NoError(t, err)
	return result
}

func (h *harness) get(t *testing.T, path string) int {
	t.Helper()

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)

	resp, err := h.httpClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

type eventLog struct {
	mu     sync.Mutex
	states []event.SessionState
}

func (l *eventLog) record(state event.SessionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

// visible returns the published prompts, ignoring dismissals.
func (l *eventLog) visible() []event.SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []event.SessionState
	for _, state := range l.states {
		if state.Visible {
			out = append(out, state)
		}
	}
	return out
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-key"))
	require.NoError(t, err)
	return token
}

type failingBackend struct {
	*storage.MemoryBackend
	failKey string
}

func (f *failingBackend) Set(ctx context.Context, key string, value string) error {
	if key == f.failKey {
		return storage.ErrUnavailable
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

type countingCache struct {
	mu      sync.Mutex
	cleared int
}

func (c *countingCache) Clear(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}
