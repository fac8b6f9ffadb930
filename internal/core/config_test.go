package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  storageBackendKind: sqlite
  connectionString: ":memory:"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, DefaultPlaceholderImageURL, config.PlaceholderImageURL)
	assert.Equal(t, DefaultStatusWithImage, config.StatusWithImage)
	assert.Equal(t, DefaultStatusWithoutImage, config.StatusWithoutImage)
	assert.Equal(t, 10*time.Second, config.Storage.Timeout)
	assert.Empty(t, config.ImageSink.Type)
}

func TestLoadConfig_FullFile(t *testing.T) {
	path := writeConfig(t, `
port: 9090
logLevel: debug
placeholderImageUrl: https://cdn.example/placeholder.jpg
storage:
  storageBackendKind: postgres
  connectionString: postgres://scans:secret@db:5432/scans
  listLimit: 25
  requireDeviceId: true
  timeout: 3s
imageSink:
  type: s3
  endpoint: minio:9000
  bucket: scans
  timeout: 15s
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "postgres", config.Storage.Kind)
	assert.Equal(t, 25, config.Storage.ListLimit)
	assert.True(t, config.Storage.RequireDeviceID)
	assert.Equal(t, 3*time.Second, config.Storage.Timeout)
	assert.Equal(t, "s3", config.ImageSink.Type)
	assert.Equal(t, 15*time.Second, config.ImageSink.Timeout)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND_KIND", "redis")
	t.Setenv("STORAGE_CONNECTION_STRING", "redis://cache:6379/0")
	t.Setenv("CLOUDINARY_CLOUD_NAME", "field-cloud")
	t.Setenv("CLOUDINARY_API_KEY", "key-from-env")
	t.Setenv("CLOUDINARY_API_SECRET", "secret-from-env")

	path := writeConfig(t, `
storage:
  storageBackendKind: file
  connectionString: ./scans.json
imageSink:
  type: cloudinary
  apiKey: key-from-file
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", config.Storage.Kind)
	assert.Equal(t, "redis://cache:6379/0", config.Storage.ConnectionString)
	assert.Equal(t, "field-cloud", config.ImageSink.CloudName)
	assert.Equal(t, "key-from-env", config.ImageSink.APIKey)
	assert.Equal(t, "secret-from-env", config.ImageSink.APISecret)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  storageBackendKind: mongodb\n  connectionString: x\n"},
		{"missing connection string", "storage:\n  storageBackendKind: file\n"},
		{"bad log level", "logLevel: verbose\nstorage:\n  storageBackendKind: file\n  connectionString: x\n"},
		{"bad sink type", "storage:\n  storageBackendKind: file\n  connectionString: x\nimageSink:\n  type: ftp\n"},
		{"port out of range", "port: 70000\nstorage:\n  storageBackendKind: file\n  connectionString: x\n"},
		{"not yaml", "storage: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
