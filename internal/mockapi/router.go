package mockapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func NewRouter(cfg Config, service *AuthService) http.Handler {
	authHandler := NewAuthHandler(service)
	authenticated := requireAuth(service)
	limiter := newAuthRateLimiter(cfg.AuthRateLimitRPM)

	r := chi.NewRouter()
	r.Use(recovery)
	r.Use(corsHandler(cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(auth chi.Router) {
			auth.With(limiter.Handler).Post("/login", authHandler.Login)
			auth.With(limiter.Handler).Post("/register", authHandler.Register)
			auth.Post("/refresh", authHandler.Refresh)
			auth.With(authenticated).Post("/logout", authHandler.Logout)
			auth.With(authenticated).Get("/me", authHandler.Me)
		})

		api.With(authenticated).Get("/listings", authHandler.Listings)
	})

	return r
}

// New builds the service and its router from cfg.
func New(cfg Config) (*AuthService, http.Handler, error) {
	service, err := NewAuthService(cfg)
	if err != nil {
		return nil, nil, err
	}
	return service, NewRouter(cfg, service), nil
}

// TestConfig is a fast configuration for in-process test servers.
func TestConfig() Config {
	return Config{
		Addr:             "127.0.0.1:0",
		JWTSecret:        "test-secret",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       24 * time.Hour,
		CORSOrigins:      []string{"*"},
		AuthRateLimitRPM: 1000,
		SeedPassword:     "market123",
		SeedUsers:        []string{"alice", "bob"},
		BcryptCost:       4,
	}
}
