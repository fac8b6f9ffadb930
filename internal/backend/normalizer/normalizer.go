package normalizer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jo-hoe/plantscan/internal/backend/taxonomy"
)

// Alias chains, tried in order; the first non-empty value wins.
var (
	diseasePaths = []fieldPath{
		{"diseaseDetected"},
		{"disease_detected"},
		{"detectionResult", "primaryDisease"},
		{"detection_result", "primary_disease"},
	}
	confidencePaths = []fieldPath{
		{"confidence"},
		{"confidence_score"},
		{"detectionResult", "confidence"},
		{"detection_result", "confidence"},
	}
	imagePaths = []fieldPath{
		{"image_data"},
		{"imageData"},
		{"image_base64"},
		{"image"},
	}
	deviceInfoPaths   = []fieldPath{{"device_info"}, {"deviceInfo"}}
	deviceIDPaths     = []fieldPath{{"device_id"}, {"deviceId"}, {"device_info", "device_id"}, {"deviceInfo", "deviceId"}}
	locationPaths     = []fieldPath{{"location"}}
	predictionPaths   = []fieldPath{{"all_predictions"}, {"allPredictions"}, {"detectionResult", "allPredictions"}}
	recommendPaths    = []fieldPath{{"recommendation"}}
	notesPaths        = []fieldPath{{"user_notes"}, {"userNotes"}}
	timestampPaths    = []fieldPath{{"timestamp"}, {"clientTimestamp"}, {"upload_time"}}
	clientRecordPaths = []fieldPath{{"id"}, {"scan_id"}}
)

// Location is an optional latitude/longitude pair reported by the device.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ScanSubmission is the canonical interpretation of one raw payload.
type ScanSubmission struct {
	RawDiseaseCode   string
	RawConfidence    float64
	ImageBytes       []byte
	ImageFilename    string
	ImageContentType string
	DeviceMetadata   map[string]any
	DeviceID         string
	LocationHint     *Location
	ClientTimestamp  *time.Time
	ClientRecordID   string
	Predictions      map[string]any
	Recommendation   string
	UserNotes        string
	RawSubmission    map[string]any
}

// HasImage reports whether the submission carries image bytes.
func (s *ScanSubmission) HasImage() bool {
	return len(s.ImageBytes) > 0
}

// Normalize interprets a raw payload. It is total: missing or malformed
// fields fall back to their defaults and never produce an error.
func Normalize(raw *RawPayload) *ScanSubmission {
	if raw == nil {
		raw = &RawPayload{}
	}
	fields := raw.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	submission := &ScanSubmission{
		RawDiseaseCode:  extractDiseaseCode(fields),
		RawConfidence:   extractConfidence(fields),
		DeviceMetadata:  extractMap(fields, deviceInfoPaths),
		DeviceID:        extractString(fields, deviceIDPaths),
		LocationHint:    extractLocation(fields),
		ClientTimestamp: extractTimestamp(fields),
		ClientRecordID:  extractString(fields, clientRecordPaths),
		Predictions:     extractMap(fields, predictionPaths),
		Recommendation:  extractString(fields, recommendPaths),
		UserNotes:       extractString(fields, notesPaths),
	}

	// the audit copy keeps a size marker in place of an inline image blob
	markers := map[string]string{}
	if len(raw.Image) > 0 {
		submission.ImageBytes = raw.Image
		submission.ImageFilename = raw.ImageFilename
		submission.ImageContentType = raw.ImageContentType
	} else if value, path, ok := firstPresent(fields, imagePaths); ok {
		if encoded, isString := value.(string); isString {
			image, contentType, err := decodeBase64Image(encoded)
			if err != nil {
				slog.Debug("normalizer: ignoring undecodable image field", "field", path.String(), "error", err)
				markers[path[0]] = fmt.Sprintf("<undecodable, %d chars>", len(encoded))
			} else {
				submission.ImageBytes = image
				submission.ImageContentType = contentType
				markers[path[0]] = fmt.Sprintf("<%d bytes>", len(image))
			}
		}
	}

	submission.RawSubmission = make(map[string]any, len(fields))
	for key, value := range fields {
		if marker, ok := markers[key]; ok {
			submission.RawSubmission[key] = marker
			continue
		}
		submission.RawSubmission[key] = value
	}

	return submission
}

func extractDiseaseCode(fields map[string]any) string {
	for _, path := range diseasePaths {
		value, ok := lookup(fields, path)
		if !ok || isEmpty(value) {
			continue
		}
		if code, ok := asString(value); ok && code != "" {
			return code
		}
	}
	return taxonomy.UnknownCode
}

func extractConfidence(fields map[string]any) float64 {
	value, path, ok := firstPresent(fields, confidencePaths)
	if !ok {
		return 0
	}
	confidence, ok := asFloat(value)
	if !ok {
		slog.Debug("normalizer: confidence is not numeric; defaulting to 0", "field", path.String())
		return 0
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

func extractString(fields map[string]any, paths []fieldPath) string {
	for _, path := range paths {
		value, ok := lookup(fields, path)
		if !ok || isEmpty(value) {
			continue
		}
		if s, ok := asString(value); ok && s != "" {
			return s
		}
	}
	return ""
}

func extractMap(fields map[string]any, paths []fieldPath) map[string]any {
	value, _, ok := firstPresent(fields, paths)
	if !ok {
		return nil
	}
	m, ok := asMap(value)
	if !ok {
		return nil
	}
	return m
}

func extractLocation(fields map[string]any) *Location {
	if m := extractMap(fields, locationPaths); m != nil {
		if loc, ok := locationFrom(m); ok {
			return loc
		}
	}
	if loc, ok := locationFrom(fields); ok {
		return loc
	}
	return nil
}

func locationFrom(m map[string]any) (*Location, bool) {
	lat, latOK := coordinate(m, "latitude", "lat")
	lng, lngOK := coordinate(m, "longitude", "lng", "lon")
	if !latOK || !lngOK {
		return nil, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, false
	}
	return &Location{Latitude: lat, Longitude: lng}, true
}

func coordinate(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		value, ok := m[key]
		if !ok || isEmpty(value) {
			continue
		}
		if f, ok := asFloat(value); ok {
			return f, true
		}
	}
	return 0, false
}

func extractTimestamp(fields map[string]any) *time.Time {
	value, _, ok := firstPresent(fields, timestampPaths)
	if !ok {
		return nil
	}

	switch v := value.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				ts = ts.UTC()
				return &ts
			}
		}
		if millis, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts := time.UnixMilli(millis).UTC()
			return &ts
		}
	case json.Number:
		if millis, err := v.Int64(); err == nil {
			ts := time.UnixMilli(millis).UTC()
			return &ts
		}
	case float64:
		ts := time.UnixMilli(int64(v)).UTC()
		return &ts
	}
	return nil
}
