package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Upload backends.
const (
	UploadREST = "rest"
	UploadS3   = "s3"
)

// Config holds all environment-based configuration for hrchat.
type Config struct {
	// Backend endpoints.
	APIURL string `env:"HRCHAT_API_URL"`
	WSURL  string `env:"HRCHAT_WS_URL"`

	// Credentials for "hrchat login". Either may be supplied by flag instead.
	Email    string `env:"HRCHAT_EMAIL"`
	Password string `env:"HRCHAT_PASSWORD"`

	// Optional file holding an access token. Writing, replacing or
	// removing it signs in, refreshes or signs out the running client.
	TokenFile string `env:"HRCHAT_TOKEN_FILE"`

	// Local state. An empty path means ~/.hrchat/state.db.
	StatePath       string `env:"HRCHAT_STATE_PATH"`
	StatePassphrase string `env:"HRCHAT_STATE_PASSPHRASE"`

	HistoryPageSize   int           `env:"HRCHAT_HISTORY_PAGE_SIZE" envDefault:"20"`
	SearchConcurrency int           `env:"HRCHAT_SEARCH_CONCURRENCY" envDefault:"1"`
	SearchDebounce    time.Duration `env:"HRCHAT_SEARCH_DEBOUNCE" envDefault:"300ms"`

	// Upload backend: "rest" posts to the chat backend, "s3" puts objects
	// into a bucket directly.
	UploadBackend string `env:"HRCHAT_UPLOAD_BACKEND" envDefault:"rest"`
	S3Bucket      string `env:"HRCHAT_S3_BUCKET"`
	S3Region      string `env:"HRCHAT_S3_REGION"`
	S3Endpoint    string `env:"HRCHAT_S3_ENDPOINT"`
	S3PublicBase  string `env:"HRCHAT_S3_PUBLIC_BASE"`
	S3AccessKey   string `env:"HRCHAT_S3_ACCESS_KEY"`
	S3SecretKey   string `env:"HRCHAT_S3_SECRET_KEY"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogFile     string `env:"LOG_FILE"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The watcher compares event paths against this one, so it must be
	// absolute.
	if cfg.TokenFile != "" {
		abs, err := filepath.Abs(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("resolving token file to absolute path: %w", err)
		}

		cfg.TokenFile = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("HRCHAT_API_URL is required")
	}

	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("HRCHAT_API_URL must be an http or https URL")
	}

	if c.WSURL == "" {
		return fmt.Errorf("HRCHAT_WS_URL is required")
	}

	if u, err := url.Parse(c.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("HRCHAT_WS_URL must be a ws or wss URL")
	}

	if c.HistoryPageSize < 1 {
		return fmt.Errorf("HRCHAT_HISTORY_PAGE_SIZE must be at least 1")
	}

	if c.SearchConcurrency < 1 {
		return fmt.Errorf("HRCHAT_SEARCH_CONCURRENCY must be at least 1")
	}

	if c.SearchDebounce < 0 {
		return fmt.Errorf("HRCHAT_SEARCH_DEBOUNCE must not be negative")
	}

	switch c.UploadBackend {
	case UploadREST:
	case UploadS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("HRCHAT_S3_BUCKET is required when the upload backend is s3")
		}

		if c.S3Region == "" {
			return fmt.Errorf("HRCHAT_S3_REGION is required when the upload backend is s3")
		}

		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			return fmt.Errorf("HRCHAT_S3_ACCESS_KEY and HRCHAT_S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("HRCHAT_UPLOAD_BACKEND must be %q or %q, got %q", UploadREST, UploadS3, c.UploadBackend)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
