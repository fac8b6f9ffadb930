package core

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/plantscan/internal/backend/imagesink"
)

const (
	DefaultPlaceholderImageURL = "https://res.cloudinary.com/demo/image/upload/v1/coconut-scans/mobile-default.jpg"
	DefaultStatusWithImage     = "REAL MOBILE UPLOAD"
	DefaultStatusWithoutImage  = "MOBILE UPLOAD (NO IMAGE)"

	defaultPort           = 8080
	defaultStorageTimeout = 10 * time.Second
	defaultMaxImageBytes  = 20 << 20
)

// StorageConfig selects the storage backend at deployment time.
type StorageConfig struct {
	Kind             string        `yaml:"storageBackendKind" validate:"required,oneof=file sqlite postgres redis"`
	ConnectionString string        `yaml:"connectionString" validate:"required"`
	ListLimit        int           `yaml:"listLimit" validate:"min=0"`
	RequireDeviceID  bool          `yaml:"requireDeviceId"`
	KeyPrefix        string        `yaml:"keyPrefix"`
	Timeout          time.Duration `yaml:"timeout"`
}

type ServiceConfig struct {
	Port                int              `yaml:"port" validate:"min=1,max=65535"`
	LogLevel            string           `yaml:"logLevel" validate:"oneof=debug info warn error"`
	PlaceholderImageURL string           `yaml:"placeholderImageUrl" validate:"required,url"`
	StatusWithImage     string           `yaml:"statusWithImage"`
	StatusWithoutImage  string           `yaml:"statusWithoutImage"`
	MaxImageBytes       int64            `yaml:"maxImageBytes" validate:"min=0"`
	Storage             StorageConfig    `yaml:"storage"`
	ImageSink           imagesink.Config `yaml:"imageSink"`
}

// LoadConfig loads configuration from the specified YAML file, applies
// environment overrides and defaults, and validates the result.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return config, nil
}

// ParseConfig is LoadConfig without the file read.
func ParseConfig(data []byte) (*ServiceConfig, error) {
	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnvironment(os.Getenv)
	config.applyDefaults()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("config failed validation: %w", err)
	}
	return &config, nil
}

// applyEnvironment lets credentials and backend selection come from the
// environment instead of the config file.
func (c *ServiceConfig) applyEnvironment(getenv func(string) string) {
	overrides := []struct {
		name   string
		target *string
	}{
		{"CLOUDINARY_CLOUD_NAME", &c.ImageSink.CloudName},
		{"CLOUDINARY_API_KEY", &c.ImageSink.APIKey},
		{"CLOUDINARY_API_SECRET", &c.ImageSink.APISecret},
		{"S3_ACCESS_KEY", &c.ImageSink.AccessKey},
		{"S3_SECRET_KEY", &c.ImageSink.SecretKey},
		{"STORAGE_BACKEND_KIND", &c.Storage.Kind},
		{"STORAGE_CONNECTION_STRING", &c.Storage.ConnectionString},
	}
	for _, override := range overrides {
		if value := strings.TrimSpace(getenv(override.name)); value != "" {
			*override.target = value
		}
	}
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PlaceholderImageURL == "" {
		c.PlaceholderImageURL = DefaultPlaceholderImageURL
	}
	if c.StatusWithImage == "" {
		c.StatusWithImage = DefaultStatusWithImage
	}
	if c.StatusWithoutImage == "" {
		c.StatusWithoutImage = DefaultStatusWithoutImage
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = defaultMaxImageBytes
	}
	if c.Storage.Timeout <= 0 {
		c.Storage.Timeout = defaultStorageTimeout
	}
}

// SlogLevel maps the configured log level onto slog.
func (c *ServiceConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
