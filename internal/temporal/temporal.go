// Package temporal aggregates sequences of degradation measurements into
// trend and risk metrics.
//
// Analysis is a pure reduction over its input sequence: no hidden state,
// recomputed fresh on every call.
package temporal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"driftd/internal/degrade"
)

// ErrInsufficientData is returned when fewer than two points are supplied;
// the trend slope is undefined.
var ErrInsufficientData = errors.New("temporal: insufficient data for analysis")

// MinPointsForAnalysis is the minimum sequence length for a defined slope.
const MinPointsForAnalysis = 2

// Direction labels the sign of the fitted trend.
type Direction string

const (
	DirectionIncreasing Direction = "INCREASING"
	DirectionStable     Direction = "STABLE"
	DirectionDecreasing Direction = "DECREASING"
)

// Risk is the ordinal thermal-death risk classification.
type Risk string

const (
	RiskLow      Risk = "LOW"
	RiskModerate Risk = "MODERATE"
	RiskHigh     Risk = "HIGH"
	RiskSevere   Risk = "SEVERE"
)

// Config holds the trend thresholds.
type Config struct {
	// StableSlope is the slope magnitude below which the trend counts as
	// flat.
	StableSlope float64
	// SteepSlope is the slope above which degradation is accelerating.
	SteepSlope float64
	// MeanRiskFloor is the mean index at or above which the period itself
	// is a risk signal.
	MeanRiskFloor float64
	// InterventionRateFloor is the intervention fraction above which the
	// period is a risk signal.
	InterventionRateFloor float64
}

// DefaultConfig returns the standard trend thresholds.
func DefaultConfig() Config {
	return Config{
		StableSlope:           0.05,
		SteepSlope:            0.15,
		MeanRiskFloor:         0.35,
		InterventionRateFloor: 0.5,
	}
}

// Point is one measurement in a period: a timestamp and its matrix.
type Point struct {
	Timestamp time.Time
	Matrix    *degrade.IntegrityMatrix
}

// Metrics summarizes the degradation trajectory over an ordered period.
type Metrics struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Count       int       `json:"count"`

	MeanIndex     float64   `json:"mean_index"`
	StdIndex      float64   `json:"std_index"`
	Slope         float64   `json:"slope"`
	Direction     Direction `json:"direction"`
	Risk          Risk      `json:"risk"`
	Interventions int       `json:"interventions"`

	riskScore int
}

// AnalyzePeriod reduces a timestamp-ordered sequence of matrices to trend
// metrics. The slope is an ordinary least-squares fit of the index against
// a normalized time position, not time-weighted.
func AnalyzePeriod(points []Point, cfg Config) (*Metrics, error) {
	if len(points) < MinPointsForAnalysis {
		return nil, fmt.Errorf("%w: need at least %d points, got %d",
			ErrInsufficientData, MinPointsForAnalysis, len(points))
	}
	for i, p := range points {
		if p.Matrix == nil {
			return nil, fmt.Errorf("temporal: nil matrix at point %d", i)
		}
	}

	n := len(points)
	indices := make([]float64, n)
	interventions := 0
	var sum float64
	for i, p := range points {
		indices[i] = p.Matrix.DegradationIndex
		sum += indices[i]
		if p.Matrix.Status == degrade.StatusCritical {
			interventions++
		}
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range indices {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(n))

	slope := olsSlope(indices)
	direction := classifyDirection(slope, cfg.StableSlope)

	m := &Metrics{
		PeriodStart:   points[0].Timestamp,
		PeriodEnd:     points[n-1].Timestamp,
		Count:         n,
		MeanIndex:     mean,
		StdIndex:      std,
		Slope:         slope,
		Direction:     direction,
		Interventions: interventions,
	}
	m.Risk, m.riskScore = classifyRisk(m, float64(interventions)/float64(n), cfg)

	return m, nil
}

// olsSlope fits y against a normalized position x in [0, 1].
// Formula: slope = sum((x-x̄)(y-ȳ)) / sum((x-x̄)²)
func olsSlope(y []float64) float64 {
	n := len(y)
	var xMean, yMean float64
	xs := make([]float64, n)
	for i := range y {
		xs[i] = float64(i) / float64(n-1)
		xMean += xs[i]
		yMean += y[i]
	}
	xMean /= float64(n)
	yMean /= float64(n)

	var num, den float64
	for i := range y {
		dx := xs[i] - xMean
		num += dx * (y[i] - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func classifyDirection(slope, stableSlope float64) Direction {
	switch {
	case slope > stableSlope:
		return DirectionIncreasing
	case slope < -stableSlope:
		return DirectionDecreasing
	default:
		return DirectionStable
	}
}

// classifyRisk counts independent risk signals: an elevated mean, a steep
// rising slope, and a high intervention rate. 0 signals LOW, 3 SEVERE.
func classifyRisk(m *Metrics, interventionRate float64, cfg Config) (Risk, int) {
	score := 0
	if m.MeanIndex >= cfg.MeanRiskFloor {
		score++
	}
	if m.Slope > cfg.SteepSlope {
		score++
	}
	if interventionRate > cfg.InterventionRateFloor {
		score++
	}

	switch score {
	case 0:
		return RiskLow, score
	case 1:
		return RiskModerate, score
	case 2:
		return RiskHigh, score
	default:
		return RiskSevere, score
	}
}

// Comparison reports how one period moved relative to an earlier one.
type Comparison struct {
	MeanDelta     float64 `json:"mean_delta"`
	SlopeDelta    float64 `json:"slope_delta"`
	Accelerating  bool    `json:"accelerating"`
	RiskIncreased bool    `json:"risk_increased"`
}

// ComparePeriods contrasts a later period against an earlier one.
func ComparePeriods(earlier, later *Metrics) *Comparison {
	return &Comparison{
		MeanDelta:     later.MeanIndex - earlier.MeanIndex,
		SlopeDelta:    later.Slope - earlier.Slope,
		Accelerating:  later.Slope > earlier.Slope && later.MeanIndex > earlier.MeanIndex,
		RiskIncreased: later.riskScore > earlier.riskScore,
	}
}
