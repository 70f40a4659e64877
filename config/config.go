// Package config provides configuration loading and management for lifeplan.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete lifeplan configuration. Values come from
// the environment, optionally overlaid from a .env file.
type Config struct {
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string
	// ListenAddr is the HTTP bind address (default ":8000").
	ListenAddr string
	// AppBaseURL is the public base URL used in reminder links.
	AppBaseURL string
	// WorkflowsRoot is the directory holding <event>/v<N>/compiled.json.
	WorkflowsRoot string
	// AutoCreateSchema runs the embedded DDL on startup when true.
	AutoCreateSchema bool

	// CORSOrigins lists the allowed browser origins.
	CORSOrigins []string

	Email EmailConfig

	Worker WorkerConfig
}

// EmailConfig configures outbound mail and the Brevo provider.
type EmailConfig struct {
	// FromAddress is the sender address on every reminder.
	FromAddress string
	// FromName is the sender display name.
	FromName string
	// BrevoAPIKey authenticates against the Brevo API.
	BrevoAPIKey string
	// BrevoBaseURL is the Brevo API root (default https://api.brevo.com/v3).
	BrevoBaseURL string
	// DryRun short-circuits sending; every mail reports sent/"dry-run".
	DryRun bool
	// AllowedRecipientDomains, when non-empty, whitelists recipient domains.
	// Entries are lowercase.
	AllowedRecipientDomains []string
	// TokenSecret signs unsubscribe tokens.
	TokenSecret string
}

// WorkerConfig configures the periodic scan and dispatch drivers.
type WorkerConfig struct {
	// ScanInterval is the cadence of the due-soon reminder scan.
	ScanInterval time.Duration
	// DispatchInterval is the cadence of the outbox dispatcher.
	DispatchInterval time.Duration
	// DispatchBatchSize caps rows locked per dispatcher run.
	DispatchBatchSize int
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ListenAddr:    ":8000",
		AppBaseURL:    "http://localhost:3000",
		WorkflowsRoot: "workflows",
		Email: EmailConfig{
			FromAddress:  "noreply@example.com",
			FromName:     "Lebenslotse",
			BrevoBaseURL: "https://api.brevo.com/v3",
			DryRun:       true,
			TokenSecret:  "dev-notification-secret",
		},
		Worker: WorkerConfig{
			ScanInterval:      time.Hour,
			DispatchInterval:  5 * time.Minute,
			DispatchBatchSize: 100,
		},
	}
}

// Load builds the configuration from the environment. A .env file in the
// working directory is overlaid first without overriding variables that are
// already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.AppBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("WORKFLOWS_ROOT"); v != "" {
		cfg.WorkflowsRoot = v
	}
	cfg.AutoCreateSchema = envBool("AUTO_CREATE_SCHEMA", false)
	cfg.CORSOrigins = envList("CORS_ORIGINS", false)

	if v := os.Getenv("EMAIL_FROM_ADDRESS"); v != "" {
		cfg.Email.FromAddress = v
	}
	if v := os.Getenv("EMAIL_FROM_NAME"); v != "" {
		cfg.Email.FromName = v
	}
	cfg.Email.BrevoAPIKey = os.Getenv("BREVO_API_KEY")
	if v := os.Getenv("BREVO_BASE_URL"); v != "" {
		cfg.Email.BrevoBaseURL = strings.TrimRight(v, "/")
	}
	cfg.Email.DryRun = envBool("EMAIL_DRY_RUN", true)
	cfg.Email.AllowedRecipientDomains = envList("EMAIL_ALLOWED_RECIPIENT_DOMAINS", true)
	if v := os.Getenv("NOTIFICATION_TOKEN_SECRET"); v != "" {
		cfg.Email.TokenSecret = v
	}

	if v := os.Getenv("SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL: %w", err)
		}
		cfg.Worker.ScanInterval = d
	}
	if v := os.Getenv("DISPATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_INTERVAL: %w", err)
		}
		cfg.Worker.DispatchInterval = d
	}
	if v := os.Getenv("DISPATCH_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH_SIZE: %q", v)
		}
		cfg.Worker.DispatchBatchSize = n
	}

	return cfg, nil
}

// Validate checks that the configuration can run the service.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.WorkflowsRoot == "" {
		return fmt.Errorf("WORKFLOWS_ROOT is required")
	}
	if c.Email.TokenSecret == "" {
		return fmt.Errorf("NOTIFICATION_TOKEN_SECRET is required")
	}
	if c.Worker.DispatchBatchSize <= 0 {
		return fmt.Errorf("dispatch batch size must be positive")
	}
	return nil
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// envList splits a comma-separated variable, trimming blanks. lower folds
// entries to lowercase, which recipient-domain matching relies on.
func envList(name string, lower bool) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return out
}
