// Package vectorspace builds weighted term vectors over a shared vocabulary
// from an origin/control text pair.
//
// The two texts are treated as a two-document corpus: the vocabulary is the
// union of their tokens, term weights are TF-IDF with document frequency in
// {1, 2}, and both resulting vectors span the full joint vocabulary so they
// are directly comparable.
package vectorspace

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// ErrInvalidInput is returned when a text tokenizes to zero terms.
var ErrInvalidInput = errors.New("vectorspace: invalid input")

// DefaultSignificanceEpsilon is the weight threshold below which a term
// does not count toward a vector's effective dimension.
const DefaultSignificanceEpsilon = 1e-9

// DefaultSmoothingEpsilon is the additive smoothing constant applied to
// probability distributions before KL divergence.
const DefaultSmoothingEpsilon = 1e-10

// TextSample is a raw text plus its normalized token sequence.
// Immutable once built.
type TextSample struct {
	raw    string
	tokens []string
}

// NewTextSample tokenizes raw text: lowercase, punctuation stripped,
// whitespace split, single-character tokens dropped.
func NewTextSample(raw string) (*TextSample, error) {
	tokens := Tokenize(raw)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text tokenizes to zero terms", ErrInvalidInput)
	}
	return &TextSample{raw: raw, tokens: tokens}, nil
}

// Raw returns the original text.
func (s *TextSample) Raw() string { return s.raw }

// Tokens returns a copy of the normalized token sequence.
func (s *TextSample) Tokens() []string {
	out := make([]string, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// Tokenize normalizes text to a token sequence. Characters that are not
// letters, digits, underscores, or whitespace are removed before splitting.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// TermVector maps vocabulary terms to non-negative weights. Every vector
// produced by Build spans the full joint vocabulary, so weights may be zero
// for terms that appear only in the paired document.
type TermVector struct {
	weights map[string]float64
	vocab   []string // sorted joint vocabulary, shared across the pair
}

// Weight returns the weight of a term, zero if absent.
func (v *TermVector) Weight(term string) float64 { return v.weights[term] }

// Vocabulary returns the sorted joint vocabulary the vector spans.
func (v *TermVector) Vocabulary() []string { return v.vocab }

// Dimensionality returns the joint vocabulary size.
func (v *TermVector) Dimensionality() int { return len(v.vocab) }

// Build constructs TF-IDF term vectors for an origin/control pair over
// their joint vocabulary. Deterministic: no vocabulary state is carried
// between calls.
func Build(origin, control *TextSample) (*TermVector, *TermVector, error) {
	if origin == nil || control == nil {
		return nil, nil, fmt.Errorf("%w: nil text sample", ErrInvalidInput)
	}

	originTF := termFrequencies(origin.tokens)
	controlTF := termFrequencies(control.tokens)

	vocabSet := make(map[string]struct{}, len(originTF)+len(controlTF))
	for t := range originTF {
		vocabSet[t] = struct{}{}
	}
	for t := range controlTF {
		vocabSet[t] = struct{}{}
	}
	vocab := make([]string, 0, len(vocabSet))
	for t := range vocabSet {
		vocab = append(vocab, t)
	}
	sort.Strings(vocab)

	originVec := &TermVector{weights: make(map[string]float64, len(vocab)), vocab: vocab}
	controlVec := &TermVector{weights: make(map[string]float64, len(vocab)), vocab: vocab}

	// Smoothed IDF over the two-document corpus: idf = ln((1+N)/(1+df)) + 1
	// with N = 2 and df in {1, 2}. Terms present in both documents get the
	// floor weight 1, terms unique to one document get ln(3/2)+1.
	const corpusSize = 2.0
	for _, term := range vocab {
		df := 0.0
		if originTF[term] > 0 {
			df++
		}
		if controlTF[term] > 0 {
			df++
		}
		idf := math.Log((1+corpusSize)/(1+df)) + 1

		if tf := originTF[term]; tf > 0 {
			originVec.weights[term] = tf * idf
		}
		if tf := controlTF[term]; tf > 0 {
			controlVec.weights[term] = tf * idf
		}
	}

	return originVec, controlVec, nil
}

// termFrequencies returns the normalized term frequency map of a token
// sequence: count(term) / len(tokens).
func termFrequencies(tokens []string) map[string]float64 {
	counts := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	n := float64(len(tokens))
	for t := range counts {
		counts[t] /= n
	}
	return counts
}

// CosineDistance returns 1 - cosine similarity between two vectors over
// their joint vocabulary. A zero-norm vector yields 1.0 (maximal
// divergence), not an error.
func CosineDistance(a, b *TermVector) float64 {
	var dot, normA, normB float64
	for _, term := range a.vocab {
		wa := a.weights[term]
		wb := b.weights[term]
		dot += wa * wb
		normA += wa * wa
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// KLDivergence computes D(P || Q) in bits between the frequency
// distributions of two token sequences, with additive smoothing applied to
// every probability before renormalizing. This is an approximation, not
// true KL over possibly-disjoint supports.
func KLDivergence(pTokens, qTokens []string, smoothingEps float64) (float64, error) {
	if len(pTokens) == 0 || len(qTokens) == 0 {
		return 0, fmt.Errorf("%w: empty token sequence", ErrInvalidInput)
	}
	if smoothingEps <= 0 {
		smoothingEps = DefaultSmoothingEpsilon
	}

	pFreq := termFrequencies(pTokens)
	qFreq := termFrequencies(qTokens)

	support := make(map[string]struct{}, len(pFreq)+len(qFreq))
	for t := range pFreq {
		support[t] = struct{}{}
	}
	for t := range qFreq {
		support[t] = struct{}{}
	}

	// Smooth and renormalize over the joint support.
	var pSum, qSum float64
	p := make(map[string]float64, len(support))
	q := make(map[string]float64, len(support))
	for t := range support {
		p[t] = pFreq[t] + smoothingEps
		q[t] = qFreq[t] + smoothingEps
		pSum += p[t]
		qSum += q[t]
	}

	var kl float64
	for t := range support {
		pi := p[t] / pSum
		qi := q[t] / qSum
		kl += pi * math.Log2(pi/qi)
	}
	return kl, nil
}

// EffectiveDimension counts terms whose weight exceeds eps.
func EffectiveDimension(v *TermVector, eps float64) int {
	n := 0
	for _, w := range v.weights {
		if w > eps {
			n++
		}
	}
	return n
}

// IntersectionDimension counts vocabulary terms exceeding eps in both
// vectors simultaneously.
func IntersectionDimension(a, b *TermVector, eps float64) int {
	n := 0
	for term, wa := range a.weights {
		if wa > eps && b.weights[term] > eps {
			n++
		}
	}
	return n
}

// TopTerms returns the n highest-weighted terms of a vector, heaviest
// first. Ties break lexicographically for determinism.
func TopTerms(v *TermVector, n int) []string {
	type termWeight struct {
		term   string
		weight float64
	}
	tw := make([]termWeight, 0, len(v.weights))
	for t, w := range v.weights {
		tw = append(tw, termWeight{t, w})
	}
	sort.Slice(tw, func(i, j int) bool {
		if tw[i].weight != tw[j].weight {
			return tw[i].weight > tw[j].weight
		}
		return tw[i].term < tw[j].term
	})
	if n > len(tw) {
		n = len(tw)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = tw[i].term
	}
	return out
}
