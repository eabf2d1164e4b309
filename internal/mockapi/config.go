package mockapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config drives the development backend. Every field has a default so the
// server starts with no environment at all.
type Config struct {
	Addr             string        `env:"MOCKAPI_ADDR" envDefault:":8081"`
	JWTSecret        string        `env:"MOCKAPI_JWT_SECRET" envDefault:"dev-only-secret"`
	AccessTTL        time.Duration `env:"MOCKAPI_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL       time.Duration `env:"MOCKAPI_REFRESH_TTL" envDefault:"168h"`
	CORSOrigins      []string      `env:"MOCKAPI_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	AuthRateLimitRPM int           `env:"MOCKAPI_AUTH_RATE_LIMIT_RPM" envDefault:"60"`
	SeedPassword     string        `env:"MOCKAPI_SEED_PASSWORD" envDefault:"market123"`
	SeedUsers        []string      `env:"MOCKAPI_SEED_USERS" envSeparator:"," envDefault:"alice,bob"`
	BcryptCost       int           `env:"MOCKAPI_BCRYPT_COST" envDefault:"10"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("MOCKAPI_JWT_SECRET cannot be empty")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	return nil
}
