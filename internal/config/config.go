package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TimeoutOff      = "off"
	TimeoutIdle     = "idle"
	TimeoutAbsolute = "absolute"
)

type Config struct {
	APIBaseURL         string
	HTTPTimeout        time.Duration
	StoreDir           string
	SecureBackend      string
	SecurePassphrase   string
	KeyringService     string
	PlainBackend       string
	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32
	DeviceID           string
	SessionTimeoutMode string
	SessionTimeout     time.Duration
	RefreshDedup       bool
	SignInRateLimitRPM int
	LogLevel           string
	MetricsEnabled     bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIBaseURL:         strings.TrimRight(getEnv("API_BASE_URL", ""), "/"),
		HTTPTimeout:        getDuration("HTTP_TIMEOUT", 30*time.Second),
		StoreDir:           getEnv("STORE_DIR", defaultStoreDir()),
		SecureBackend:      getEnv("SECURE_BACKEND", "auto"),
		SecurePassphrase:   strings.TrimSpace(os.Getenv("SECURE_PASSPHRASE")),
		KeyringService:     getEnv("KEYRING_SERVICE", "marketplace-client"),
		PlainBackend:       getEnv("PLAIN_BACKEND", "file"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DBMaxConns:         int32(getInt("DB_MAX_CONNS", 4)),
		DBMinConns:         int32(getInt("DB_MIN_CONNS", 0)),
		DeviceID:           getEnv("DEVICE_ID", ""),
		SessionTimeoutMode: strings.ToLower(getEnv("SESSION_TIMEOUT_MODE", TimeoutOff)),
		SessionTimeout:     getDuration("SESSION_TIMEOUT", 30*time.Minute),
		RefreshDedup:       getBool("REFRESH_DEDUP", true),
		SignInRateLimitRPM: getInt("SIGN_IN_RATE_LIMIT_RPM", 10),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MetricsEnabled:     getBool("METRICS_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if strings.TrimSpace(c.StoreDir) == "" {
		return fmt.Errorf("STORE_DIR cannot be empty")
	}

	switch c.SessionTimeoutMode {
	case TimeoutOff, TimeoutIdle, TimeoutAbsolute:
	default:
		return fmt.Errorf("SESSION_TIMEOUT_MODE must be one of off, idle, absolute")
	}

	if c.SessionTimeoutMode != TimeoutOff && c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive when SESSION_TIMEOUT_MODE is %s", c.SessionTimeoutMode)
	}

	if c.PlainBackend == "postgres" {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when PLAIN_BACKEND is postgres")
		}
		if strings.TrimSpace(c.DeviceID) == "" {
			return fmt.Errorf("DEVICE_ID is required when PLAIN_BACKEND is postgres")
		}
	}

	if c.SecureBackend == "encrypted-file" && c.SecurePassphrase == "" {
		return fmt.Errorf("SECURE_PASSPHRASE is required when SECURE_BACKEND is encrypted-file")
	}

	return nil
}

// TimeoutEnabled reports whether the local session timer is in use.
func (c *Config) TimeoutEnabled() bool {
	return c.SessionTimeoutMode != TimeoutOff
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./state"
	}
	return filepath.Join(dir, "marketplace-client")
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}
