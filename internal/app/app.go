package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"marketplace-client/internal/api"
	"marketplace-client/internal/config"
	"marketplace-client/internal/event"
	"marketplace-client/internal/metrics"
	"marketplace-client/internal/screen"
	"marketplace-client/internal/service"
	"marketplace-client/internal/storage"
	"marketplace-client/internal/transport"
)

// App is the assembled session core. The UI layer talks to Session,
// subscribes through Broadcaster and reports navigation to Screen.
type App struct {
	Config      *config.Config
	Session     *service.SessionService
	Broadcaster *event.InMemoryBroadcaster
	Screen      *screen.Tracker
	HTTPClient  *http.Client
	API         *api.Client
	Metrics     *prometheus.Registry

	timer        *service.SessionTimer
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var registry *prometheus.Registry
	var rec *metrics.Recorder
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		rec = metrics.New(registry)
	}

	store, closeStore, err := storage.New(ctx, storage.Options{
		Dir:            cfg.StoreDir,
		Secure:         cfg.SecureBackend,
		Passphrase:     cfg.SecurePassphrase,
		KeyringService: cfg.KeyringService,
		Plain:          cfg.PlainBackend,
		DatabaseURL:    cfg.DatabaseURL,
		DBMaxConns:     cfg.DBMaxConns,
		DBMinConns:     cfg.DBMinConns,
		Namespace:      cfg.DeviceID,
		Metrics:        rec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	broadcaster := event.NewBroadcaster()
	tracker := screen.NewTracker()
	timer := service.NewSessionTimer(cfg.SessionTimeoutMode, cfg.SessionTimeout)
	tokens := service.NewTokenStore(store)

	authTransport := transport.NewAuthTransport(
		transport.NewLoggingTransport(http.DefaultTransport, rec),
		transport.AuthOptions{
			Tokens:      tokens,
			Broadcaster: broadcaster,
			Activity:    timer,
			Screen:      tracker,
			AuthPaths:   api.AuthPaths,
			Metrics:     rec,
		},
	)
	httpClient := &http.Client{Transport: authTransport, Timeout: cfg.HTTPTimeout}
	apiClient := api.New(cfg.APIBaseURL, httpClient)

	session, err := service.NewSessionService(service.Options{
		Store:              store,
		Tokens:             tokens,
		Registry:           service.NewAccountRegistry(store),
		Timer:              timer,
		Broadcaster:        broadcaster,
		API:                apiClient,
		Metrics:            rec,
		RefreshDedup:       cfg.RefreshDedup,
		SignInRateLimitRPM: cfg.SignInRateLimitRPM,
		SignOutTimeout:     cfg.HTTPTimeout,
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("failed to initialize session service: %w", err)
	}

	if cfg.TimeoutEnabled() {
		slog.Info("local session timeout enabled", "mode", cfg.SessionTimeoutMode, "after", cfg.SessionTimeout)
		// A session restored from storage gets a fresh timer for this process.
		if session.CheckAuth(ctx) {
			timer.Start()
		}
	}
	slog.Debug("session core ready",
		"api", cfg.APIBaseURL,
		"timeout_mode", cfg.SessionTimeoutMode,
		"refresh_dedup", cfg.RefreshDedup,
	)

	return &App{
		Config:      cfg,
		Session:     session,
		Broadcaster: broadcaster,
		Screen:      tracker,
		HTTPClient:  httpClient,
		API:         apiClient,
		Metrics:     registry,
		timer:       timer,
		cleanupFuncs: []func(){
			timer.Stop,
			closeStore,
			httpClient.CloseIdleConnections,
		},
	}, nil
}

// Close stops the session timer and releases storage handles. The stored
// session is left intact for the next process.
func (a *App) Close() {
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}
	a.cleanupFuncs = nil
}
