package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/plantscan/internal/backend/database"
	"github.com/jo-hoe/plantscan/internal/backend/normalizer"
	"github.com/jo-hoe/plantscan/internal/backend/taxonomy"
	"github.com/jo-hoe/plantscan/internal/core"
)

const healthCheckTimeout = 2 * time.Second

// ingestRoutes all accept the same submission shapes; the legacy paths are
// kept for deployed mobile clients.
var ingestRoutes = []string{
	"/api/scans",
	"/api/upload-mobile",
	"/api/upload-scan",
	"/api/upload-scan-free",
	"/api/upload-scan-local",
}

var recentRoutes = []string{
	"/api/scans",
	"/api/scans-free",
}

type APIService struct {
	coreService   *core.CoreService
	maxImageBytes int64
}

type recentQuery struct {
	Limit int `query:"limit" validate:"min=0,max=1000"`
}

type scanConfirmation struct {
	Success           bool                  `json:"success"`
	Message           string                `json:"message"`
	ScanID            string                `json:"scan_id"`
	Timestamp         time.Time             `json:"timestamp"`
	ImageURL          string                `json:"image_url"`
	AIResult          string                `json:"ai_result"`
	Confidence        string                `json:"confidence"`
	ConfidencePercent int                   `json:"confidence_percent"`
	SeverityLevel     taxonomy.SeverityTier `json:"severity_level"`
	MobileDetection   bool                  `json:"mobile_detection"`
	Data              *database.ScanRecord  `json:"data"`
}

type failureResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorKind string `json:"errorKind,omitempty"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService:   coreService,
		maxImageBytes: config.MaxImageBytes,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})
	e.GET("/healthz", s.handleHealth)

	for _, route := range ingestRoutes {
		e.POST(route, s.handleIngest)
	}
	for _, route := range recentRoutes {
		e.GET(route, s.handleRecent)
	}
	e.GET("/api/diseases", s.handleDiseases)
}

func (s *APIService) handleIngest(c echo.Context) error {
	raw, err := s.readPayload(c.Request())
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, normalizer.ErrImageTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		slog.Warn("rejected unreadable submission", "route", c.Path(), "error", err)
		return c.JSON(status, failureResponse{Message: err.Error(), ErrorKind: database.KindInvalid.String()})
	}

	record, err := s.coreService.Ingest(c.Request().Context(), raw)
	if err != nil {
		kind := database.KindOf(err)
		status := http.StatusServiceUnavailable
		message := "Scan could not be stored, please retry"
		if kind == database.KindInvalid {
			status = http.StatusBadRequest
			message = fmt.Sprintf("Scan was rejected: %v", errors.Unwrap(err))
		}
		return c.JSON(status, failureResponse{Message: message, ErrorKind: kind.String()})
	}

	return c.JSON(http.StatusOK, scanConfirmation{
		Success:           true,
		Message:           fmt.Sprintf("Mobile scan successful: %s detected!", record.DisplayName),
		ScanID:            record.ID,
		Timestamp:         record.ReceivedAt,
		ImageURL:          record.ImageURL,
		AIResult:          record.DisplayName,
		Confidence:        fmt.Sprintf("%d%%", record.ConfidencePercent),
		ConfidencePercent: record.ConfidencePercent,
		SeverityLevel:     record.SeverityTier,
		MobileDetection:   true,
		Data:              record,
	})
}

// readPayload picks a reader by content type. Multipart bodies are streamed;
// everything else is read whole and treated as JSON when it looks like JSON
// and as a base64 image otherwise.
func (s *APIService) readPayload(req *http.Request) (*normalizer.RawPayload, error) {
	mediaType, _, err := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	if err != nil {
		mediaType = ""
	}

	if mediaType == echo.MIMEMultipartForm {
		reader, err := req.MultipartReader()
		if err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		return normalizer.ReadMultipart(reader, s.maxImageBytes)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	trimmed := strings.TrimSpace(string(body))
	if mediaType == echo.MIMEApplicationJSON || strings.HasSuffix(mediaType, "+json") ||
		strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return normalizer.ReadJSON(body), nil
	}
	return normalizer.ReadBase64(body), nil
}

func (s *APIService) handleRecent(c echo.Context) error {
	var query recentQuery
	if err := c.Bind(&query); err != nil {
		return err
	}
	if err := c.Validate(&query); err != nil {
		return err
	}

	records, err := s.coreService.Recent(c.Request().Context(), query.Limit)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, failureResponse{
			Message:   "Scans could not be loaded, please retry",
			ErrorKind: database.KindOf(err).String(),
		})
	}
	return c.JSON(http.StatusOK, records)
}

func (s *APIService) handleDiseases(c echo.Context) error {
	codes := taxonomy.Codes()
	entries := make([]taxonomy.DiseaseEntry, 0, len(codes))
	for _, code := range codes {
		entries = append(entries, taxonomy.Lookup(code))
	}
	// most severe first, then by code
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := entries[i].SeverityTier.Rank(), entries[j].SeverityTier.Rank()
		if ri != rj {
			return ri > rj
		}
		return entries[i].Code < entries[j].Code
	})
	return c.JSON(http.StatusOK, entries)
}

func (s *APIService) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	backend := s.coreService.StorageKind()
	if err := s.coreService.Ping(ctx); err != nil {
		slog.Warn("health check failed", "backend", backend, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"backend": backend,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": backend,
	})
}
