package extract

import (
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
)

// Thresholds are minimum character counts per document size class. A result must have
// strictly more characters than its class threshold to count as extracted.
type Thresholds struct {
	Small  int // < 64 KiB
	Medium int // < 1 MiB
	Large  int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Small: 50, Medium: 100, Large: 200}
}

// ThresholdsFrom fills unset classes with defaults.
func ThresholdsFrom(cfg common.ExtractionConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.MinCharsSmall > 0 {
		t.Small = cfg.MinCharsSmall
	}
	if cfg.MinCharsMedium > 0 {
		t.Medium = cfg.MinCharsMedium
	}
	if cfg.MinCharsLarge > 0 {
		t.Large = cfg.MinCharsLarge
	}
	return t
}

// For returns the threshold for a document of sizeBytes.
func (t Thresholds) For(sizeBytes int) int {
	switch {
	case sizeBytes < constants.SmallDocumentBytes:
		return t.Small
	case sizeBytes < constants.MediumDocumentBytes:
		return t.Medium
	default:
		return t.Large
	}
}
