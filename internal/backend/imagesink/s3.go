package imagesink

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jo-hoe/plantscan/internal/backend/imageprocessing"
)

const defaultRegion = "us-east-1"

// S3Sink stores images in an S3 compatible bucket.
type S3Sink struct {
	client        *minio.Client
	bucket        string
	folder        string
	publicBaseURL string
	timeout       time.Duration
	imageOpts     imageprocessing.Options
}

func NewS3Sink(cfg Config) (Sink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("missing s3 configuration: endpoint and bucket are required")
	}

	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &S3Sink{
		client:        mc,
		bucket:        cfg.Bucket,
		folder:        cfg.folder(),
		publicBaseURL: strings.TrimRight(base, "/"),
		timeout:       cfg.UploadTimeout(),
		imageOpts: imageprocessing.Options{
			SVGFallbackWidth:  cfg.SVGFallbackWidth,
			SVGFallbackHeight: cfg.SVGFallbackHeight,
			MaxWidth:          cfg.MaxWidth,
			MaxHeight:         cfg.MaxHeight,
		},
	}, nil
}

func (s *S3Sink) Provider() string {
	return TypeS3
}

func (s *S3Sink) Store(ctx context.Context, image []byte, suggestedKey string) (string, error) {
	prepared, err := imageprocessing.Prepare(image, s.imageOpts)
	if err != nil {
		return "", &SinkError{Provider: TypeS3, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.objectKey(suggestedKey, prepared.Format)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(prepared.Data), int64(len(prepared.Data)), minio.PutObjectOptions{
		ContentType: prepared.ContentType,
	})
	if err != nil {
		return "", &SinkError{Provider: TypeS3, Err: fmt.Errorf("put object %s: %w", key, err)}
	}
	return s.objectURL(key), nil
}

func (s *S3Sink) objectKey(suggestedKey, format string) string {
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return path.Join(s.folder, suggestedKey+"."+ext)
}

func (s *S3Sink) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}
