package entropy

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestShannonUniform(t *testing.T) {
	// Four equally likely tokens: H = log2(4) = 2 bits.
	h, err := Shannon([]string{"a1", "b2", "c3", "d4"})
	if err != nil {
		t.Fatalf("Shannon failed: %v", err)
	}
	if !approx(h, 2.0, 1e-12) {
		t.Errorf("entropy = %v, want 2.0", h)
	}
}

func TestShannonDegenerate(t *testing.T) {
	// A single repeated token carries zero entropy.
	h, err := Shannon([]string{"same", "same", "same"})
	if err != nil {
		t.Fatalf("Shannon failed: %v", err)
	}
	if h != 0 {
		t.Errorf("entropy = %v, want 0", h)
	}
}

func TestShannonSkewed(t *testing.T) {
	// p = {3/4, 1/4}: H = 0.75*log2(4/3) + 0.25*log2(4) ~ 0.811278.
	h, err := Shannon([]string{"hot", "hot", "hot", "cold"})
	if err != nil {
		t.Fatalf("Shannon failed: %v", err)
	}
	want := 0.75*math.Log2(4.0/3.0) + 0.25*2.0
	if !approx(h, want, 1e-12) {
		t.Errorf("entropy = %v, want %v", h, want)
	}
}

func TestShannonEmpty(t *testing.T) {
	if _, err := Shannon(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestComputeDensity(t *testing.T) {
	tokens := []string{"one", "two", "two", "three", "three", "three"}
	d, err := ComputeDensity(tokens)
	if err != nil {
		t.Fatalf("ComputeDensity failed: %v", err)
	}

	if d.TokenCount != 6 {
		t.Errorf("TokenCount = %d, want 6", d.TokenCount)
	}
	if d.UniqueTokens != 3 {
		t.Errorf("UniqueTokens = %d, want 3", d.UniqueTokens)
	}
	if !approx(d.DensityRho, d.EntropyBits/6.0, 1e-12) {
		t.Errorf("DensityRho = %v, want H/N = %v", d.DensityRho, d.EntropyBits/6.0)
	}
}

func TestComputeDensityEmpty(t *testing.T) {
	if _, err := ComputeDensity(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
