package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator"

	"github.com/jo-hoe/plantscan/internal/backend/taxonomy"
)

// Location is the latitude/longitude reported with a scan.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ScanRecordInput is a canonical scan before the backend assigns its id and
// receipt time.
type ScanRecordInput struct {
	// ClientID is an optional caller supplied key. Only the SQL store honours
	// it, as an upsert key; the other backends always generate ids.
	ClientID string `json:"-"`

	DisplayName       string                `json:"display_name" validate:"required"`
	DiseaseCode       string                `json:"disease_code"`
	ConfidencePercent int                   `json:"confidence_percent" validate:"min=0,max=100"`
	SeverityTier      taxonomy.SeverityTier `json:"severity_tier" validate:"oneof=low medium high"`
	ImageURL          string                `json:"image_url,omitempty"`
	Recommendation    string                `json:"recommendation,omitempty"`
	UserNotes         string                `json:"user_notes,omitempty"`
	Status            string                `json:"status,omitempty"`
	DeviceID          string                `json:"device_id,omitempty"`
	Predictions       map[string]any        `json:"predictions"`
	DeviceMetadata    map[string]any        `json:"device_metadata"`
	Location          *Location             `json:"location,omitempty"`
	ClientTimestamp   *time.Time            `json:"client_timestamp,omitempty"`
	RawSubmission     map[string]any        `json:"raw_submission"`
}

// ScanRecord is the persisted unit of storage.
type ScanRecord struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	ScanRecordInput
}

var inputValidator = validator.New()

// validateInput rejects records that violate the record invariants.
func validateInput(op string, in *ScanRecordInput) error {
	if err := inputValidator.Struct(in); err != nil {
		return invalid(op, fmt.Errorf("record failed validation: %w", err))
	}
	if want := taxonomy.SeverityForPercent(in.ConfidencePercent); in.SeverityTier != want {
		return invalid(op, fmt.Errorf("severity %q does not match confidence %d%% (want %q)", in.SeverityTier, in.ConfidencePercent, want))
	}
	return nil
}

// newestFirst orders records given in insertion order by receipt time,
// newest first; equal receipt times keep later insertions first.
func newestFirst(records []*ScanRecord) []*ScanRecord {
	ordered := make([]*ScanRecord, len(records))
	for i, record := range records {
		ordered[len(records)-1-i] = record
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceivedAt.After(ordered[j].ReceivedAt)
	})
	return ordered
}

func clampLimit(limit, defaultLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
