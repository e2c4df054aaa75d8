package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/plateo/feedengine/internal/content"
)

// Weights defines how much each sub-score contributes to the composite.
type Weights struct {
	Popularity      float64 `json:"popularity"`      // default: 0.3
	Personalization float64 `json:"personalization"` // default: 0.4
	Quality         float64 `json:"quality"`         // default: 0.2
	Proximity       float64 `json:"proximity"`       // default: 0.1
}

// TierMultipliers boosts the composite by publisher subscription tier.
type TierMultipliers struct {
	Free    float64 `json:"free"`    // default: 1.0
	Basic   float64 `json:"basic"`   // default: 1.2
	Premium float64 `json:"premium"` // default: 1.5
}

// For returns the multiplier for tier. Unknown tiers get the FREE value.
func (m TierMultipliers) For(tier content.Tier) float64 {
	switch tier {
	case content.TierPremium:
		return m.Premium
	case content.TierBasic:
		return m.Basic
	default:
		return m.Free
	}
}

// Calibration holds every tunable of the scorer.
type Calibration struct {
	Weights Weights         `json:"weights"`
	Tiers   TierMultipliers `json:"tiers"`

	// FreshnessDecayDays is the time constant of the exponential freshness decay.
	FreshnessDecayDays float64 `json:"freshness_decay_days"`
}

// CalibrationFile is the JSON structure of the calibration file.
type CalibrationFile struct {
	Version string `json:"version"`
	Calibration
}

// DefaultCalibration returns the production scoring configuration.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Weights: Weights{
			Popularity:      0.3,
			Personalization: 0.4,
			Quality:         0.2,
			Proximity:       0.1,
		},
		Tiers: TierMultipliers{
			Free:    1.0,
			Basic:   1.2,
			Premium: 1.5,
		},
		FreshnessDecayDays: 30,
	}
}

// LoadCalibration loads the scorer configuration from a JSON file.
// An empty path returns the defaults. On read or parse failure the defaults
// are returned together with the error so callers can degrade gracefully.
// Partial files are merged over the defaults.
func LoadCalibration(filePath string) (*Calibration, error) {
	if filePath == "" {
		return DefaultCalibration(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var file CalibrationFile
	if err := json.Unmarshal(data, &file); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultCalibration(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultCalibration()
	merged := MergeCalibration(defaults, &file.Calibration)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration returns base with every non-zero field of override applied.
func MergeCalibration(base, override *Calibration) *Calibration {
	if base == nil {
		return DefaultCalibration()
	}

	result := *base
	if override == nil {
		return &result
	}

	mergeField(&result.Weights.Popularity, override.Weights.Popularity)
	mergeField(&result.Weights.Personalization, override.Weights.Personalization)
	mergeField(&result.Weights.Quality, override.Weights.Quality)
	mergeField(&result.Weights.Proximity, override.Weights.Proximity)

	mergeField(&result.Tiers.Free, override.Tiers.Free)
	mergeField(&result.Tiers.Basic, override.Tiers.Basic)
	mergeField(&result.Tiers.Premium, override.Tiers.Premium)

	if override.FreshnessDecayDays > 0 {
		result.FreshnessDecayDays = override.FreshnessDecayDays
	}

	return &result
}

func mergeField(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// logCalibrationOverrides logs which values differ from the defaults.
func logCalibrationOverrides(defaults, loaded *Calibration) {
	var overrides []string
	check := func(name string, def, got float64) {
		if def != got {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, def, got))
		}
	}

	check("weights.popularity", defaults.Weights.Popularity, loaded.Weights.Popularity)
	check("weights.personalization", defaults.Weights.Personalization, loaded.Weights.Personalization)
	check("weights.quality", defaults.Weights.Quality, loaded.Weights.Quality)
	check("weights.proximity", defaults.Weights.Proximity, loaded.Weights.Proximity)
	check("tiers.free", defaults.Tiers.Free, loaded.Tiers.Free)
	check("tiers.basic", defaults.Tiers.Basic, loaded.Tiers.Basic)
	check("tiers.premium", defaults.Tiers.Premium, loaded.Tiers.Premium)
	check("freshness_decay_days", defaults.FreshnessDecayDays, loaded.FreshnessDecayDays)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides", "overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
