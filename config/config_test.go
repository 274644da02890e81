package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":5123", cfg.App.HTTPAddr)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 5, cfg.RabbitMQ.ReconnectAttempts)
}

func TestLoadConfig_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: https://shop.example\nstorage:\n  driver: memory\n"), 0o600))

	t.Setenv("STOREFRONT_RECONCILE__INTERVAL", "500ms")

	secret := filepath.Join(dir, "jwt")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret\n"), 0o600))
	t.Setenv("JWT_SECRET_FILE", secret)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example", cfg.API.BaseURL)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconcile.Interval)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadConfig_MissingFileIsOptional(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("STOREFRONT_STORAGE__DRIVER", "etcd")
	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "unknown storage.driver")
}
