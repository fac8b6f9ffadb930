package imagesink

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jo-hoe/plantscan/internal/backend/imageprocessing"
)

const defaultCloudinaryURL = "https://api.cloudinary.com"

type cloudinaryUploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Bytes     int64  `json:"bytes"`
}

type cloudinaryErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CloudinarySink performs signed uploads against the Cloudinary upload API.
type CloudinarySink struct {
	client    *resty.Client
	uploadURL string
	apiKey    string
	apiSecret string
	folder    string
	imageOpts imageprocessing.Options
	now       func() time.Time
}

// NewCloudinarySink requires cloudName, apiKey and apiSecret.
func NewCloudinarySink(cfg Config) (Sink, error) {
	var missing []string
	if cfg.CloudName == "" {
		missing = append(missing, "cloudName")
	}
	if cfg.APIKey == "" {
		missing = append(missing, "apiKey")
	}
	if cfg.APISecret == "" {
		missing = append(missing, "apiSecret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing cloudinary configuration: %s", strings.Join(missing, ", "))
	}

	base := cfg.UploadURL
	if base == "" {
		base = defaultCloudinaryURL
	}

	return &CloudinarySink{
		client:    resty.New().SetTimeout(cfg.UploadTimeout()),
		uploadURL: fmt.Sprintf("%s/v1_1/%s/image/upload", strings.TrimRight(base, "/"), cfg.CloudName),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		folder:    cfg.folder(),
		imageOpts: imageprocessing.Options{
			SVGFallbackWidth:  cfg.SVGFallbackWidth,
			SVGFallbackHeight: cfg.SVGFallbackHeight,
			MaxWidth:          cfg.MaxWidth,
			MaxHeight:         cfg.MaxHeight,
		},
		now: time.Now,
	}, nil
}

func (s *CloudinarySink) Provider() string {
	return TypeCloudinary
}

func (s *CloudinarySink) Store(ctx context.Context, image []byte, suggestedKey string) (string, error) {
	prepared, err := imageprocessing.Prepare(image, s.imageOpts)
	if err != nil {
		return "", &SinkError{Provider: TypeCloudinary, Err: err}
	}

	params := map[string]string{
		"folder":    s.folder,
		"public_id": suggestedKey,
		"timestamp": strconv.FormatInt(s.now().Unix(), 10),
	}
	form := map[string]string{
		"api_key":   s.apiKey,
		"signature": signParams(params, s.apiSecret),
	}
	for k, v := range params {
		if v != "" {
			form[k] = v
		}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetFileReader("file", suggestedKey+"."+prepared.Format, bytes.NewReader(prepared.Data)).
		SetResult(&cloudinaryUploadResponse{}).
		SetError(&cloudinaryErrorResponse{}).
		Post(s.uploadURL)
	if err != nil {
		return "", &SinkError{Provider: TypeCloudinary, Err: fmt.Errorf("upload request failed: %w", err)}
	}
	if resp.IsError() {
		message := resp.String()
		if apiErr, ok := resp.Error().(*cloudinaryErrorResponse); ok && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return "", &SinkError{
			Provider: TypeCloudinary,
			Err:      fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode(), message),
		}
	}

	result, ok := resp.Result().(*cloudinaryUploadResponse)
	if !ok || result.SecureURL == "" {
		return "", &SinkError{Provider: TypeCloudinary, Err: errors.New("upload response carries no secure_url")}
	}

	slog.Debug("cloudinary upload complete", "public_id", result.PublicID, "bytes", result.Bytes, "format", result.Format)
	return result.SecureURL, nil
}

// signParams implements the Cloudinary request signature: the non-empty
// parameters sorted by name, joined as k=v pairs with '&', suffixed with
// the API secret and hashed with SHA-1.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
