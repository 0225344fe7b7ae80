// Package risk turns classifier output and behavioral signals into a
// calibrated 0-100 risk score and a severity band.
//
// The math is split out from signal gathering so the formula is a pure
// function: same factors in, same score out, no clock and no I/O.
package risk

import (
	"math"
)

// Factor names beyond what the classifier emits.
const (
	FactorFlood       = "flood"
	FactorUserHistory = "user_history"
	FactorSimilarity  = "similarity"
)

// DefaultWeights holds the per-factor contribution weights for the
// noisy-OR combination. A factor absent from the input contributes
// nothing; a factor absent from this map is ignored.
var DefaultWeights = map[string]float64{
	"spam":             0.18,
	"toxicity":         0.14,
	"scam":             0.16,
	"illegal":          0.18,
	"phishing":         0.14,
	"nsfw":             0.12,
	"flood":            0.10,
	"user_history":     0.10,
	"similarity":       0.08,
	"suspicious_links": 0.10,
}

type Band string

const (
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

// Thresholds are the band cut points on the calibrated 0-100 scale.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 85, High: 70, Medium: 50}
}

// Input is everything the formula needs, gathered by the engine.
type Input struct {
	// factor name -> normalized score in [0,1]
	Scores map[string]float64
	// nil means DefaultWeights
	Weights map[string]float64
	// violations in the last 24 hours, for repeat-offender escalation
	RecentViolations int
	// current trust score on the 0-100 scale
	Trust      float64
	Thresholds Thresholds
}

type Score struct {
	// noisy-OR combination before escalation, in [0,1]
	Base float64
	// escalation multiplier actually applied
	Escalation float64
	// sigmoid-calibrated score on the 0-100 scale
	Calibrated float64
	Band       Band
}

// escalation multipliers; both can apply to the same event
const (
	repeatOffenderThreshold  = 3
	repeatOffenderMultiplier = 1.15
	lowTrustThreshold        = 20.0
	lowTrustMultiplier       = 1.25
)

// sigmoid steepness for score calibration
const calibrationSlope = 10.0

// Compute combines weighted factors with a noisy-OR so independent
// weak signals accumulate without any single factor saturating the
// score: R = 1 - prod(1 - w_i * s_i). Escalation multiplies R before
// calibration and the result is clamped to [0,1].
func Compute(in Input) Score {
	weights := in.Weights
	if weights == nil {
		weights = DefaultWeights
	}

	survival := 1.0
	for factor, raw := range in.Scores {
		w, ok := weights[factor]
		if !ok {
			continue
		}
		survival *= 1 - w*clampUnit(raw)
	}
	base := 1 - survival

	escalation := 1.0
	if in.RecentViolations > repeatOffenderThreshold {
		escalation *= repeatOffenderMultiplier
	}
	if in.Trust < lowTrustThreshold {
		escalation *= lowTrustMultiplier
	}
	escalated := clampUnit(base * escalation)

	calibrated := 100 / (1 + math.Exp(-calibrationSlope*(escalated-0.5)))

	return Score{
		Base:       base,
		Escalation: escalation,
		Calibrated: calibrated,
		Band:       bandFor(calibrated, in.Thresholds),
	}
}

func bandFor(calibrated float64, t Thresholds) Band {
	switch {
	case calibrated >= t.Critical:
		return BandCritical
	case calibrated >= t.High:
		return BandHigh
	case calibrated >= t.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

// Confidence discounts the classifier's self-reported confidence when
// the factor scores disagree with each other, with a floor of 0.5.
func Confidence(reported float64, scores map[string]float64) float64 {
	conf := reported - math.Min(variance(scores)*2, 0.2)
	if conf < 0.5 {
		return 0.5
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func variance(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range scores {
		mean += v
	}
	mean /= float64(len(scores))
	sum := 0.0
	for _, v := range scores {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(scores))
}

// FloodFactor normalizes a per-minute message rate: quiet below five,
// linear up to twenty, saturated past that.
func FloodFactor(perMinute int) float64 {
	rate := float64(perMinute)
	switch {
	case rate < 5:
		return 0
	case rate >= 20:
		return 1
	default:
		return (rate - 5) / 15
	}
}

// HistoryFactor blends recent violation pressure with distrust: 60%
// from rolling violation counts, 40% from how far trust sits below the
// neutral baseline.
func HistoryFactor(violations24h, violations7d int, trust float64) float64 {
	pressure := math.Min(float64(violations24h)*0.3+float64(violations7d)*0.1, 1)
	distrust := math.Max(0, (50-trust)/50)
	return pressure*0.6 + distrust*0.4
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
