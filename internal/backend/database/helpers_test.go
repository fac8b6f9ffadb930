package database

import (
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/plantscan/internal/backend/taxonomy"
)

// steppingClock returns a clock that advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := current
		current = current.Add(step)
		return now
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func sampleInput(t *testing.T, displayName string, percent int) ScanRecordInput {
	t.Helper()
	return ScanRecordInput{
		DisplayName:       displayName,
		DiseaseCode:       "CCI_Caterpillars",
		ConfidencePercent: percent,
		SeverityTier:      taxonomy.SeverityForPercent(percent),
		ImageURL:          "https://images.example/scan.jpg",
		Status:            "REAL MOBILE UPLOAD",
		DeviceID:          "device-7",
		Predictions:       map[string]any{"CCI_Caterpillars": 0.92},
		DeviceMetadata:    map[string]any{"model": "Pixel"},
		Location:          &Location{Latitude: 10.5, Longitude: 76.2},
		RawSubmission:     map[string]any{"diseaseDetected": "CCI_Caterpillars"},
	}
}

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
