package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), "does-not-exist")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "mock", cfg.ProviderMode)
	assert.Equal(t, 5, cfg.DispatcherWorkers)
	assert.Equal(t, 3, cfg.DispatcherMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase())
	assert.Equal(t, 24*time.Hour, cfg.CompletedRetention())
	assert.Equal(t, 7*24*time.Hour, cfg.FailedRetention())
	assert.Equal(t, "delivery.status.v1", cfg.StatusEventsSubject)
	assert.Equal(t, "messages.inbound.raw", cfg.InboundMessagesSubject)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Empty(t, cfg.AllowedOrigins())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("STORE_BACKEND: memory\nDISPATCHER_WORKERS: 2\nWEBHOOK_APP_SECRET: from-file\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), yaml, 0o600))

	t.Setenv("APP_WEBHOOK_APP_SECRET", "from-env")

	cfg, err := Load(dir, "pipeline")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 2, cfg.DispatcherWorkers)
	assert.Equal(t, "from-env", cfg.WebhookAppSecret)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreBackend:           "memory",
			ProviderMode:           "mock",
			DispatcherWorkers:      1,
			DispatcherMaxAttempts:  3,
			ProviderTimeoutSeconds: 5,

			HTTPRequestTimeoutSeconds: 30,
		}
	}

	t.Run("Valid", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		cfg := valid()
		cfg.StoreBackend = "mongo"
		assert.ErrorContains(t, cfg.Validate(), "STORE_BACKEND")
	})

	t.Run("CloudProviderNeedsCredentials", func(t *testing.T) {
		cfg := valid()
		cfg.ProviderMode = "cloud"
		assert.ErrorContains(t, cfg.Validate(), "PROVIDER_ACCESS_TOKEN")
	})

	t.Run("NATSNeedsURL", func(t *testing.T) {
		cfg := valid()
		cfg.NATSEnabled = true
		cfg.StatusEventsSubject = "delivery.status.v1"
		assert.ErrorContains(t, cfg.Validate(), "NATS_URL")
	})

	t.Run("ZeroWorkers", func(t *testing.T) {
		cfg := valid()
		cfg.DispatcherWorkers = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestConfig_AllowedOrigins(t *testing.T) {
	cfg := Config{WebsocketAllowedOrigins: " https://ops.example.com, ,http://localhost:3000 "}
	assert.Equal(t, []string{"https://ops.example.com", "http://localhost:3000"}, cfg.AllowedOrigins())
}
