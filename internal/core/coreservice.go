package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jo-hoe/plantscan/internal/backend/database"
	"github.com/jo-hoe/plantscan/internal/backend/imagesink"
	"github.com/jo-hoe/plantscan/internal/backend/normalizer"
	"github.com/jo-hoe/plantscan/internal/backend/taxonomy"
)

// CoreService ingests scan submissions and serves the stored records.
type CoreService struct {
	config *ServiceConfig
	store  database.ScanStore
	sink   imagesink.Sink
	newKey func() string
}

// NewCoreService opens the configured storage backend and image sink.
func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	store, err := database.NewDatabase(ctx, config.Storage.Kind, config.Storage.ConnectionString, database.Options{
		ListLimit:       config.Storage.ListLimit,
		RequireDeviceID: config.Storage.RequireDeviceID,
		KeyPrefix:       config.Storage.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("storage initialized successfully", "backend", store.Kind())

	sink, err := imagesink.New(config.ImageSink)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize image sink: %w", err)
	}
	if sink != nil {
		slog.Info("image sink initialized successfully", "provider", sink.Provider())
	} else {
		slog.Info("image sink disabled, submissions use the placeholder image")
	}

	return NewCoreServiceWith(config, store, sink), nil
}

// NewCoreServiceWith wires already constructed collaborators. A nil sink
// disables image uploads.
func NewCoreServiceWith(config *ServiceConfig, store database.ScanStore, sink imagesink.Sink) *CoreService {
	return &CoreService{
		config: config,
		store:  store,
		sink:   sink,
		newKey: func() string { return "scan-" + uuid.NewString() },
	}
}

// Config returns the service configuration.
func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

// Ingest normalizes raw, uploads its image if any, and persists the
// canonical record. Only storage failures are returned; an image upload
// failure falls back to the placeholder image.
func (service *CoreService) Ingest(ctx context.Context, raw *normalizer.RawPayload) (*database.ScanRecord, error) {
	submission := normalizer.Normalize(raw)

	imageURL := service.resolveImageURL(ctx, submission)
	entry := taxonomy.Lookup(submission.RawDiseaseCode)
	percent := taxonomy.ConfidencePercent(submission.RawConfidence)

	status := service.config.StatusWithoutImage
	if submission.HasImage() {
		status = service.config.StatusWithImage
	}

	input := database.ScanRecordInput{
		ClientID:          submission.ClientRecordID,
		DisplayName:       entry.DisplayName,
		DiseaseCode:       entry.Code,
		ConfidencePercent: percent,
		SeverityTier:      taxonomy.SeverityForPercent(percent),
		ImageURL:          imageURL,
		Recommendation:    submission.Recommendation,
		UserNotes:         submission.UserNotes,
		Status:            status,
		DeviceID:          submission.DeviceID,
		Predictions:       submission.Predictions,
		DeviceMetadata:    submission.DeviceMetadata,
		ClientTimestamp:   submission.ClientTimestamp,
		RawSubmission:     submission.RawSubmission,
	}
	if hint := submission.LocationHint; hint != nil {
		input.Location = &database.Location{Latitude: hint.Latitude, Longitude: hint.Longitude}
	}

	// once the image step is done the append runs to completion even if the caller goes away
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), service.config.Storage.Timeout)
	defer cancel()

	record, err := service.store.Append(storeCtx, input)
	if err != nil {
		slog.Error("failed to persist scan", "backend", service.store.Kind(), "kind", database.KindOf(err).String(), "error", err)
		return nil, fmt.Errorf("failed to persist scan: %w", err)
	}

	slog.Info("scan ingested",
		"id", record.ID,
		"disease", entry.Code,
		"confidencePercent", record.ConfidencePercent,
		"severity", record.SeverityTier,
		"reliable", entry.Reliable(submission.RawConfidence),
		"hasImage", submission.HasImage(),
	)
	return record, nil
}

// resolveImageURL awaits the upload so the record only ever carries the
// uploaded URL or the placeholder.
func (service *CoreService) resolveImageURL(ctx context.Context, submission *normalizer.ScanSubmission) string {
	placeholder := service.config.PlaceholderImageURL
	if !submission.HasImage() {
		return placeholder
	}
	if service.sink == nil {
		slog.Debug("image received but no image sink configured", "bytes", len(submission.ImageBytes))
		return placeholder
	}

	ctx, cancel := context.WithTimeout(ctx, service.config.ImageSink.UploadTimeout())
	defer cancel()

	url, err := service.sink.Store(ctx, submission.ImageBytes, service.newKey())
	if err != nil {
		slog.Warn("image upload failed, using placeholder", "provider", service.sink.Provider(), "error", err)
		return placeholder
	}
	return url
}

// Recent returns at most limit records, newest first. A limit of zero or
// less uses the backend default.
func (service *CoreService) Recent(ctx context.Context, limit int) ([]*database.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, service.config.Storage.Timeout)
	defer cancel()

	records, err := service.store.ListRecent(ctx, limit)
	if err != nil {
		slog.Error("failed to list scans", "backend", service.store.Kind(), "error", err)
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	return records, nil
}

// StorageKind names the configured storage backend.
func (service *CoreService) StorageKind() string {
	return service.store.Kind()
}

// Ping checks that the storage backend is reachable.
func (service *CoreService) Ping(ctx context.Context) error {
	return service.store.Ping(ctx)
}

func (service *CoreService) Close() error {
	return service.store.Close()
}
