package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envAPIURL          = "SC_API_URL"
	envPublicAPIURL    = "NEXT_PUBLIC_API_URL"
	envListenPort      = "SC_LISTEN_PORT"
	envMetricsPort     = "SC_METRICS_PORT"
	envLogLevel        = "SC_LOG_LEVEL"
	envCheckTimeout    = "SC_CHECK_TIMEOUT"
	envPollInterval    = "SC_POLL_INTERVAL"
	envOrigin          = "SC_ORIGIN"
	envChecklistFile   = "SC_CHECKLIST_FILE"
	envStateFile       = "SC_STATE_FILE"
	envSlackWebhookURL = "SC_SLACK_WEBHOOK_URL"
	envWebhookURL      = "SC_WEBHOOK_URL"
	envWebhookTemplate = "SC_WEBHOOK_TEMPLATE"
	envDryRun          = "SC_DRY_RUN"
)

const (
	defaultAPIURL     = "http://localhost:8000"
	defaultListenPort = 3000
	defaultLogLevel   = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	APIURL          string
	ListenPort      int
	MetricsPort     int
	LogLevel        string
	CheckTimeout    time.Duration
	PollInterval    time.Duration
	Origin          string
	ChecklistFile   string
	StateFile       string
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIURL:     defaultAPIURL,
		ListenPort: defaultListenPort,
		LogLevel:   defaultLogLevel,
	}

	if value, ok := lookupTrimmed(envPublicAPIURL); ok && value != "" {
		cfg.APIURL = value
	}
	if value, ok := lookupTrimmed(envAPIURL); ok && value != "" {
		cfg.APIURL = value
	}

	if value, ok := lookupTrimmed(envListenPort); ok {
		port, err := parsePort(value, envListenPort)
		if err != nil {
			return Config{}, err
		}
		if port == 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envListenPort)
		}
		cfg.ListenPort = port
	}

	if value, ok := lookupTrimmed(envMetricsPort); ok {
		port, err := parsePort(value, envMetricsPort)
		if err != nil {
			return Config{}, err
		}
		cfg.MetricsPort = port
	}

	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envCheckTimeout); ok {
		timeout, err := parseNonNegativeDuration(value, envCheckTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.CheckTimeout = timeout
	}

	if value, ok := lookupTrimmed(envPollInterval); ok {
		interval, err := parseNonNegativeDuration(value, envPollInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.PollInterval = interval
	}

	if value, ok := lookupTrimmed(envOrigin); ok {
		cfg.Origin = value
	}
	if value, ok := lookupTrimmed(envChecklistFile); ok {
		cfg.ChecklistFile = value
	}
	if value, ok := lookupTrimmed(envStateFile); ok {
		cfg.StateFile = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := os.LookupEnv(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}

	if value, ok := lookupTrimmed(envDryRun); ok && value != "" {
		dryRun, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRun, err)
		}
		cfg.DryRun = dryRun
	}

	if err := validateURL(cfg.APIURL, envAPIURL); err != nil {
		return Config{}, err
	}
	if cfg.Origin != "" {
		if err := validateURL(cfg.Origin, envOrigin); err != nil {
			return Config{}, err
		}
	}
	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURL(cfg.WebhookURL, envWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func parsePort(value, name string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", name)
	}
	return port, nil
}

func parseNonNegativeDuration(value, name string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%s cannot be negative", name)
	}
	return duration, nil
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
