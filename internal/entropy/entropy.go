// Package entropy computes Shannon entropy and information-density metrics
// from token sequences.
package entropy

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for empty token sequences, where the
// probability normalization would divide by zero.
var ErrInvalidInput = errors.New("entropy: invalid input")

// Density describes the information content of a token sequence.
type Density struct {
	EntropyBits  float64 `json:"entropy_bits"`
	TokenCount   int     `json:"n_tokens"`
	UniqueTokens int     `json:"unique_lexemes"`
	DensityRho   float64 `json:"density_rho"` // entropy bits per token
}

// Shannon computes H = -sum p(i) * log2 p(i) in bits over the unique-token
// frequency distribution. A single repeated token yields 0, not an error.
func Shannon(tokens []string) (float64, error) {
	if len(tokens) == 0 {
		return 0, fmt.Errorf("%w: empty token sequence", ErrInvalidInput)
	}

	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}

	n := float64(len(tokens))
	var h float64
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h, nil
}

// ComputeDensity computes entropy plus token-count context for a sequence.
func ComputeDensity(tokens []string) (*Density, error) {
	h, err := Shannon(tokens)
	if err != nil {
		return nil, err
	}

	unique := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		unique[t] = struct{}{}
	}

	return &Density{
		EntropyBits:  h,
		TokenCount:   len(tokens),
		UniqueTokens: len(unique),
		DensityRho:   h / float64(len(tokens)),
	}, nil
}
