package imagesink

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	TypeNone       = "none"
	TypeCloudinary = "cloudinary"
	TypeS3         = "s3"

	defaultFolder  = "coconut-scans"
	defaultTimeout = 30 * time.Second
)

// Sink uploads image bytes to an object store and returns a publicly
// fetchable URL. Calls are not idempotent: storing the same bytes twice may
// yield two distinct URLs.
type Sink interface {
	Provider() string
	Store(ctx context.Context, image []byte, suggestedKey string) (string, error)
}

// SinkError wraps every failure reported by a sink.
type SinkError struct {
	Provider string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("image sink %s: %v", e.Provider, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Config selects and configures the image sink.
type Config struct {
	Type string `yaml:"type" validate:"omitempty,oneof=none cloudinary s3"`

	// Cloudinary
	CloudName string `yaml:"cloudName"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
	UploadURL string `yaml:"uploadUrl"`

	// S3 compatible object store
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"accessKey"`
	SecretKey     string `yaml:"secretKey"`
	UseSSL        bool   `yaml:"useSSL"`
	PublicBaseURL string `yaml:"publicBaseUrl"`

	Folder            string        `yaml:"folder"`
	Timeout           time.Duration `yaml:"timeout"`
	SVGFallbackWidth  int           `yaml:"svgFallbackWidth"`
	SVGFallbackHeight int           `yaml:"svgFallbackHeight"`
	MaxWidth          int           `yaml:"maxWidth" validate:"min=0"`
	MaxHeight         int           `yaml:"maxHeight" validate:"min=0"`
}

func (c Config) folder() string {
	if c.Folder == "" {
		return defaultFolder
	}
	return c.Folder
}

// UploadTimeout bounds a single Store call.
func (c Config) UploadTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// New builds the sink selected by cfg.Type. The "none" type (or an empty
// type) yields a nil Sink: image uploads are skipped.
func New(cfg Config) (Sink, error) {
	if cfg.Type == "" || cfg.Type == TypeNone {
		return nil, nil
	}
	if !DefaultRegistry.IsRegistered(cfg.Type) {
		return nil, fmt.Errorf("unknown image sink type %q, expected %s or one of: %s",
			cfg.Type, TypeNone, strings.Join(DefaultRegistry.RegisteredNames(), ", "))
	}
	return DefaultRegistry.Create(cfg.Type, cfg)
}
