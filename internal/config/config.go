package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"chat-widget/internal/domain"
)

const (
	StoreSQLite = "sqlite"
	StoreDynamo = "dynamodb"

	appDir = "chat-widget"

	DefaultFallbackMessage = domain.DefaultFallbackMessage
)

// Config is read once at start and fixed for the process lifetime.
type Config struct {
	Endpoint        string `env:"CHAT_API_ENDPOINT"`
	EndpointParam   string `env:"CHAT_ENDPOINT_PARAM"`
	Store           string `env:"CHAT_STORE" envDefault:"sqlite"`
	DBPath          string `env:"CHAT_DB_PATH"`
	SessionPath     string `env:"CHAT_SESSION_PATH"`
	DynamoTable     string `env:"CHAT_DYNAMODB_TABLE" envDefault:"chat-widget"`
	DynamoEndpoint  string `env:"CHAT_DYNAMODB_ENDPOINT"`
	Profile         string `env:"CHAT_PROFILE" envDefault:"default"`
	ClearOnStart    bool   `env:"CHAT_CLEAR_ON_START"`
	FallbackMessage string `env:"CHAT_FALLBACK_MESSAGE"`
	LogLevel        string `env:"CHAT_LOG_LEVEL" envDefault:"warn"`
}

// Load parses environ (the process environment when nil) on top of the
// build-time default endpoint and fills in per-profile default paths.
func Load(defaultEndpoint string, environ map[string]string) (Config, error) {
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	cfg := Config{Endpoint: defaultEndpoint}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if strings.TrimSpace(cfg.FallbackMessage) == "" {
		cfg.FallbackMessage = DefaultFallbackMessage
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Profile = strings.TrimSpace(cfg.Profile)

	if cfg.DBPath == "" || cfg.SessionPath == "" {
		base, err := profileDir(cfg.Profile)
		if err != nil {
			return Config{}, err
		}
		if cfg.DBPath == "" {
			cfg.DBPath = filepath.Join(base, "chat.db")
		}
		if cfg.SessionPath == "" {
			cfg.SessionPath = filepath.Join(base, "session.yaml")
		}
	}
	return cfg, nil
}

func profileDir(profile string) (string, error) {
	if err := validateProfile(profile); err != nil {
		return "", err
	}
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(root, appDir, profile), nil
}

// Validate checks everything except the endpoint, which may still be pending
// an SSM lookup.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("config: CHAT_DB_PATH must not be empty")
		}
	case StoreDynamo:
		if strings.TrimSpace(c.DynamoTable) == "" {
			return errors.New("config: CHAT_DYNAMODB_TABLE must not be empty")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if err := validateProfile(c.Profile); err != nil {
		return err
	}
	if strings.TrimSpace(c.SessionPath) == "" {
		return errors.New("config: CHAT_SESSION_PATH must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// validateProfile keeps the profile a single path element under the app
// directory.
func validateProfile(profile string) error {
	if profile == "" {
		return errors.New("config: CHAT_PROFILE must not be empty")
	}
	if profile == "." || strings.Contains(profile, "..") || strings.ContainsAny(profile, `/\`) {
		return fmt.Errorf("config: invalid profile %q", profile)
	}
	return nil
}

// ValidateEndpoint requires an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("config: API endpoint is not configured")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("config: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("config: endpoint has no host")
	}
	return nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.Store == StoreDynamo || strings.TrimSpace(c.EndpointParam) != ""
}
