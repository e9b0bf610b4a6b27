package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"HRCHAT_API_URL",
		"HRCHAT_WS_URL",
		"HRCHAT_EMAIL",
		"HRCHAT_PASSWORD",
		"HRCHAT_TOKEN_FILE",
		"HRCHAT_STATE_PATH",
		"HRCHAT_STATE_PASSPHRASE",
		"HRCHAT_HISTORY_PAGE_SIZE",
		"HRCHAT_SEARCH_CONCURRENCY",
		"HRCHAT_SEARCH_DEBOUNCE",
		"HRCHAT_UPLOAD_BACKEND",
		"HRCHAT_S3_BUCKET",
		"HRCHAT_S3_REGION",
		"HRCHAT_S3_ENDPOINT",
		"HRCHAT_S3_PUBLIC_BASE",
		"HRCHAT_S3_ACCESS_KEY",
		"HRCHAT_S3_SECRET_KEY",
		"ENVIRONMENT",
		"LOG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setBaseEnv sets the minimum env vars for a valid config.
func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HRCHAT_API_URL", "https://chat.example.com/api")
	t.Setenv("HRCHAT_WS_URL", "wss://chat.example.com")
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/api", cfg.APIURL)
	assert.Equal(t, "wss://chat.example.com", cfg.WSURL)
	assert.Equal(t, 20, cfg.HistoryPageSize)
	assert.Equal(t, 1, cfg.SearchConcurrency)
	assert.Equal(t, 300*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, UploadREST, cfg.UploadBackend)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.StatePath)
	assert.Empty(t, cfg.TokenFile)
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	setBaseEnv(t)
	t.Setenv("HRCHAT_HISTORY_PAGE_SIZE", "50")
	t.Setenv("HRCHAT_SEARCH_CONCURRENCY", "2")
	t.Setenv("HRCHAT_SEARCH_DEBOUNCE", "1s")
	t.Setenv("HRCHAT_EMAIL", "ann@example.com")
	t.Setenv("HRCHAT_PASSWORD", "secret")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.HistoryPageSize)
	assert.Equal(t, 2, cfg.SearchConcurrency)
	assert.Equal(t, time.Second, cfg.SearchDebounce)
	assert.Equal(t, "ann@example.com", cfg.Email)
	assert.Equal(t, "secret", cfg.Password)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_MissingURLs(t *testing.T) {
	tests := []struct {
		name   string
		unset  string
		errMsg string
	}{
		{"api url", "HRCHAT_API_URL", "HRCHAT_API_URL is required"},
		{"ws url", "HRCHAT_WS_URL", "HRCHAT_WS_URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			setBaseEnv(t)
			os.Unsetenv(tt.unset)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_BadURLSchemes(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{"api url not http", "HRCHAT_API_URL", "ftp://chat.example.com", "http or https"},
		{"api url no host", "HRCHAT_API_URL", "https://", "http or https"},
		{"ws url is http", "HRCHAT_WS_URL", "https://chat.example.com", "ws or wss"},
		{"ws url garbage", "HRCHAT_WS_URL", "::", "ws or wss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			setBaseEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_LimitsValidated(t *testing.T) {
	tests := []struct {
		key    string
		value  string
		errMsg string
	}{
		{"HRCHAT_HISTORY_PAGE_SIZE", "0", "HRCHAT_HISTORY_PAGE_SIZE"},
		{"HRCHAT_SEARCH_CONCURRENCY", "0", "HRCHAT_SEARCH_CONCURRENCY"},
		{"HRCHAT_SEARCH_DEBOUNCE", "-1s", "HRCHAT_SEARCH_DEBOUNCE"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearConfigEnv(t)
			setBaseEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_UnparseableNumber(t *testing.T) {
	clearConfigEnv(t)
	setBaseEnv(t)
	t.Setenv("HRCHAT_HISTORY_PAGE_SIZE", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_S3Backend(t *testing.T) {
	clearConfigEnv(t)
	setBaseEnv(t)
	t.Setenv("HRCHAT_UPLOAD_BACKEND", "s3")
	t.Setenv("HRCHAT_S3_BUCKET", "chat-files")
	t.Setenv("HRCHAT_S3_REGION", "eu-west-1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, UploadS3, cfg.UploadBackend)
	assert.Equal(t, "chat-files", cfg.S3Bucket)
	assert.Equal(t, "eu-west-1", cfg.S3Region)
}

func TestValidate_Upload(t *testing.T) {
	base := func() *Config {
		return &Config{
			APIURL:            "http://localhost:8080",
			WSURL:             "ws://localhost:8080",
			HistoryPageSize:   20,
			SearchConcurrency: 1,
			UploadBackend:     UploadS3,
			S3Bucket:          "b",
			S3Region:          "r",
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing bucket", func(c *Config) { c.S3Bucket = "" }, "HRCHAT_S3_BUCKET"},
		{"missing region", func(c *Config) { c.S3Region = "" }, "HRCHAT_S3_REGION"},
		{"half a key pair", func(c *Config) { c.S3AccessKey = "AKIA" }, "must be set together"},
		{"full key pair", func(c *Config) { c.S3AccessKey, c.S3SecretKey = "AKIA", "secret" }, ""},
		{"rest ignores s3", func(c *Config) { c.UploadBackend = UploadREST; c.S3Bucket = "" }, ""},
		{"unknown backend", func(c *Config) { c.UploadBackend = "ftp" }, "HRCHAT_UPLOAD_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)

			err := c.validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_ResolvesRelativeTokenFile(t *testing.T) {
	clearConfigEnv(t)
	setBaseEnv(t)
	t.Setenv("HRCHAT_TOKEN_FILE", "token")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.TokenFile))
	assert.Equal(t, "token", filepath.Base(cfg.TokenFile))
}

func TestLoad_AbsoluteTokenFileUnchanged(t *testing.T) {
	clearConfigEnv(t)
	setBaseEnv(t)

	path := filepath.Join(t.TempDir(), "token")
	t.Setenv("HRCHAT_TOKEN_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.TokenFile)
}

func TestIsProduction_False(t *testing.T) {
	cfg := &Config{Environment: "development"}
	assert.False(t, cfg.IsProduction())
}
