package taxonomy

import "math"

// SeverityTier is an ordered risk classification: none < low < medium < high.
type SeverityTier string

const (
	SeverityNone   SeverityTier = "none"
	SeverityLow    SeverityTier = "low"
	SeverityMedium SeverityTier = "medium"
	SeverityHigh   SeverityTier = "high"
)

// Rank returns the position of the tier in the severity ordering.
// Unknown tiers rank below none.
func (s SeverityTier) Rank() int {
	switch s {
	case SeverityNone:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return -1
	}
}

// UnknownCode is the disease code used when a submission carries none.
const UnknownCode = "Unknown"

// DiseaseEntry describes one classifier label.
type DiseaseEntry struct {
	Code                string       `json:"code"`
	DisplayName         string       `json:"displayName"`
	SeverityTier        SeverityTier `json:"severityTier"`
	ConfidenceThreshold float64      `json:"confidenceThreshold"`
}

// Reliable reports whether the classifier confidence reaches the label threshold.
func (e DiseaseEntry) Reliable(confidence float64) bool {
	return confidence >= e.ConfidenceThreshold
}

var entries = map[string]DiseaseEntry{
	"CCI_Caterpillars": {
		Code:                "CCI_Caterpillars",
		DisplayName:         "Caterpillar Infestation",
		SeverityTier:        SeverityHigh,
		ConfidenceThreshold: 0.7,
	},
	"CCI_Leaflets": {
		Code:                "CCI_Leaflets",
		DisplayName:         "Coconut Leaflet Disease",
		SeverityTier:        SeverityMedium,
		ConfidenceThreshold: 0.6,
	},
	"Healthy_Leaves": {
		Code:                "Healthy_Leaves",
		DisplayName:         "Healthy Coconut",
		SeverityTier:        SeverityNone,
		ConfidenceThreshold: 0.5,
	},
	"WCLWD_DryingofLeaflets": {
		Code:                "WCLWD_DryingofLeaflets",
		DisplayName:         "Leaf Drying Disease",
		SeverityTier:        SeverityHigh,
		ConfidenceThreshold: 0.6,
	},
	"WCLWD_Flaccidity": {
		Code:                "WCLWD_Flaccidity",
		DisplayName:         "Leaf Flaccidity",
		SeverityTier:        SeverityMedium,
		ConfidenceThreshold: 0.6,
	},
	"WCLWD_Yellowing": {
		Code:                "WCLWD_Yellowing",
		DisplayName:         "Leaf Yellowing Disease",
		SeverityTier:        SeverityMedium,
		ConfidenceThreshold: 0.6,
	},
}

// Lookup returns the entry registered for code. Unrecognized codes yield a
// synthetic entry whose display name is the code itself.
func Lookup(code string) DiseaseEntry {
	if entry, ok := entries[code]; ok {
		return entry
	}
	return DiseaseEntry{
		Code:         code,
		DisplayName:  code,
		SeverityTier: SeverityLow,
	}
}

// Codes returns every known classifier code.
func Codes() []string {
	codes := make([]string, 0, len(entries))
	for code := range entries {
		codes = append(codes, code)
	}
	return codes
}

// ConfidencePercent converts a raw classifier confidence into a display
// percentage clamped to [0, 100].
func ConfidencePercent(confidence float64) int {
	if math.IsNaN(confidence) || confidence <= 0 {
		return 0
	}
	percent := math.Round(confidence * 100)
	if percent > 100 {
		return 100
	}
	return int(percent)
}

// SeverityForPercent maps a confidence percentage onto a tier using the
// fixed 80/50 breakpoints: above 80 is high, 50 through 80 is medium.
func SeverityForPercent(percent int) SeverityTier {
	switch {
	case percent > 80:
		return SeverityHigh
	case percent >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
