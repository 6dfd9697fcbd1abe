// Package degrade implements the degradation index engine.
//
// The engine turns an origin/control text pair into an immutable
// IntegrityMatrix: Shannon entropies, entropic loss, cosine distance, KL
// divergence, effective dimensions, and the degradation index
//
//	I_D = 1 - dim(V_O ∩ V_C) / dim(V_O), clamped to [0, 1]
//
// where dim counts terms whose TF-IDF weight exceeds a significance
// threshold. Classification thresholds are configuration, not constants
// baked into the algorithm.
package degrade

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"driftd/internal/entropy"
	"driftd/internal/vectorspace"
)

// ErrInvalidInput is returned when the origin text yields no significant
// terms, so no meaningful baseline exists.
var ErrInvalidInput = errors.New("degrade: invalid input")

// Status classifies a degradation index value.
type Status string

const (
	StatusStable   Status = "STABLE"
	StatusHigh     Status = "HIGH"
	StatusCritical Status = "CRITICAL"
)

// Thresholds are the classification boundaries for the degradation index.
type Thresholds struct {
	// High is the lower bound of the HIGH band (interference detected).
	High float64
	// Critical is the lower bound of the CRITICAL band (interference
	// confirmed).
	Critical float64
}

// DefaultThresholds returns the standard classification boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.25, Critical: 0.40}
}

// Classify maps an index value to a status band. Boundaries are inclusive
// on the upper band: exactly High classifies HIGH, exactly Critical
// classifies CRITICAL.
func (t Thresholds) Classify(index float64) Status {
	switch {
	case index >= t.Critical:
		return StatusCritical
	case index >= t.High:
		return StatusHigh
	default:
		return StatusStable
	}
}

// IntegrityMatrix is the immutable result of one analysis. Input texts are
// referenced by hash only, so the record can be stored as evidence without
// duplicating payloads.
type IntegrityMatrix struct {
	RootHash  string    `json:"root_hash"`
	CID       string    `json:"cid"`
	Timestamp time.Time `json:"timestamp"`

	EntropyOrigin  float64 `json:"entropy_origin"`
	EntropyControl float64 `json:"entropy_control"`
	// EntropicLossPct is NaN when EntropyOrigin is zero; see
	// EntropicLossUndefined.
	EntropicLossPct       float64 `json:"entropic_loss_pct"`
	EntropicLossUndefined bool    `json:"entropic_loss_undefined"`

	CosineDistance float64 `json:"cosine_distance"`
	KLDivergence   float64 `json:"kl_divergence"`

	DegradationIndex     float64 `json:"degradation_index"`
	Status               Status  `json:"status"`
	InterferenceDetected bool    `json:"interference_detected"`

	DimOrigin       int `json:"dim_origin"`
	DimControl      int `json:"dim_control"`
	DimIntersection int `json:"dim_intersection"`

	OriginHash  string `json:"origin_hash"`
	ControlHash string `json:"control_hash"`

	// IntegrityHash binds the metric values to the deployment's root
	// identifiers.
	IntegrityHash string `json:"integrity_hash"`
}

// matrixAlias breaks the MarshalJSON recursion.
type matrixAlias IntegrityMatrix

// matrixJSON carries the loss percentage as a pointer so the undefined
// case (NaN) omits the field instead of producing invalid JSON.
type matrixJSON struct {
	*matrixAlias
	EntropicLossPct *float64 `json:"entropic_loss_pct,omitempty"`
}

// MarshalJSON encodes the matrix, omitting the entropic loss field when it
// is undefined. EntropicLossUndefined carries the signal either way.
func (m *IntegrityMatrix) MarshalJSON() ([]byte, error) {
	aux := matrixJSON{matrixAlias: (*matrixAlias)(m)}
	if !m.EntropicLossUndefined {
		aux.EntropicLossPct = &m.EntropicLossPct
	}
	return json.Marshal(aux)
}

// UnmarshalJSON restores the NaN sentinel when the loss field is absent.
func (m *IntegrityMatrix) UnmarshalJSON(data []byte) error {
	aux := matrixJSON{matrixAlias: (*matrixAlias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.EntropicLossPct != nil {
		m.EntropicLossPct = *aux.EntropicLossPct
	} else {
		m.EntropicLossPct = math.NaN()
		m.EntropicLossUndefined = true
	}
	return nil
}

// Engine computes IntegrityMatrix records. All fields are read-only after
// construction; Analyze is safe for concurrent callers.
type Engine struct {
	rootHash   string
	cid        string
	thresholds Thresholds

	significanceEps float64
	smoothingEps    float64

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds overrides the classification boundaries.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithSignificanceEpsilon overrides the effective-dimension threshold.
func WithSignificanceEpsilon(eps float64) Option {
	return func(e *Engine) { e.significanceEps = eps }
}

// WithSmoothingEpsilon overrides the KL smoothing constant.
func WithSmoothingEpsilon(eps float64) Option {
	return func(e *Engine) { e.smoothingEps = eps }
}

// WithClock overrides the timestamp source. Tests use a fixed clock to get
// bit-identical output.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine bound to the deployment's root identifiers.
func NewEngine(rootHash, cid string, opts ...Option) *Engine {
	e := &Engine{
		rootHash:        rootHash,
		cid:             cid,
		thresholds:      DefaultThresholds(),
		significanceEps: vectorspace.DefaultSignificanceEpsilon,
		smoothingEps:    vectorspace.DefaultSmoothingEpsilon,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the engine's classification boundaries.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Analyze computes the full IntegrityMatrix for an origin/control pair.
// Deterministic given a fixed clock: identical inputs always produce
// identical metrics.
func (e *Engine) Analyze(originText, controlText string) (*IntegrityMatrix, error) {
	origin, err := vectorspace.NewTextSample(originText)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	control, err := vectorspace.NewTextSample(controlText)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}

	originVec, controlVec, err := vectorspace.Build(origin, control)
	if err != nil {
		return nil, err
	}

	entropyO, err := entropy.Shannon(origin.Tokens())
	if err != nil {
		return nil, fmt.Errorf("origin entropy: %w", err)
	}
	entropyC, err := entropy.Shannon(control.Tokens())
	if err != nil {
		return nil, fmt.Errorf("control entropy: %w", err)
	}

	// Entropic loss is undefined when the origin carries zero entropy.
	// I_D may still be meaningful, so the analysis proceeds with an
	// explicit sentinel rather than failing.
	lossPct := math.NaN()
	lossUndefined := true
	if entropyO > 0 {
		lossPct = (entropyO - entropyC) / entropyO * 100
		lossUndefined = false
	}

	cosDist := vectorspace.CosineDistance(originVec, controlVec)
	klDiv, err := vectorspace.KLDivergence(origin.Tokens(), control.Tokens(), e.smoothingEps)
	if err != nil {
		return nil, err
	}

	dimO := vectorspace.EffectiveDimension(originVec, e.significanceEps)
	dimC := vectorspace.EffectiveDimension(controlVec, e.significanceEps)
	dimX := vectorspace.IntersectionDimension(originVec, controlVec, e.significanceEps)

	if dimO == 0 {
		return nil, fmt.Errorf("%w: origin has no significant terms", ErrInvalidInput)
	}

	index := 1.0 - float64(dimX)/float64(dimO)
	if index < 0 {
		index = 0
	}
	if index > 1 {
		index = 1
	}

	status := e.thresholds.Classify(index)

	originHash := sha256.Sum256([]byte(originText))
	controlHash := sha256.Sum256([]byte(controlText))

	m := &IntegrityMatrix{
		RootHash:              e.rootHash,
		CID:                   e.cid,
		Timestamp:             e.now().UTC(),
		EntropyOrigin:         entropyO,
		EntropyControl:        entropyC,
		EntropicLossPct:       lossPct,
		EntropicLossUndefined: lossUndefined,
		CosineDistance:        cosDist,
		KLDivergence:          klDiv,
		DegradationIndex:      index,
		Status:                status,
		InterferenceDetected:  status != StatusStable,
		DimOrigin:             dimO,
		DimControl:            dimC,
		DimIntersection:       dimX,
		OriginHash:            hex.EncodeToString(originHash[:]),
		ControlHash:           hex.EncodeToString(controlHash[:]),
	}
	m.IntegrityHash = e.computeIntegrityHash(m)

	return m, nil
}

// computeIntegrityHash hashes the canonical metric string bound to the
// root identifiers: SHA-256(data || ROOT_HASH || CID). The field order and
// formatting are a compatibility contract; changing them requires a
// version bump.
func (e *Engine) computeIntegrityHash(m *IntegrityMatrix) string {
	data := fmt.Sprintf(
		"H_O:%.6f|H_C:%.6f|I_D:%.6f|Cos:%.6f|KL:%.6f|DimO:%d|DimC:%d|DimX:%d|Status:%s",
		m.EntropyOrigin, m.EntropyControl, m.DegradationIndex,
		m.CosineDistance, m.KLDivergence,
		m.DimOrigin, m.DimControl, m.DimIntersection, m.Status,
	)
	sum := sha256.Sum256([]byte(data + e.rootHash + e.cid))
	return hex.EncodeToString(sum[:])
}
