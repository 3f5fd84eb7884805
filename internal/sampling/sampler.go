// Package sampling draws character indices from model logits. Every draw is
// categorical over the full softmax distribution: there is no argmax
// shortcut and no temperature reshaping.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it; tests
// substitute fixed sequences to pin the outcome.
type Source interface {
	Float64() float64
}

// Sampler converts a logits row into a sampled index.
type Sampler struct {
	src   Source
	probs []float64 // scratch, reused across calls
}

// New returns a sampler drawing from src.
func New(src Source) *Sampler {
	return &Sampler{src: src}
}

// NewSeeded returns a sampler over math/rand with the given seed.
func NewSeeded(seed int64) *Sampler {
	return New(rand.New(rand.NewSource(seed)))
}

// Sample draws one index from the softmax of logits.
func (s *Sampler) Sample(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, errors.New("sampling: empty logits")
	}

	maxv := float64(logits[0])
	for _, v := range logits {
		lv := float64(v)
		if math.IsNaN(lv) || math.IsInf(lv, 0) {
			return 0, fmt.Errorf("sampling: non-finite logit %v", lv)
		}
		if lv > maxv {
			maxv = lv
		}
	}

	if cap(s.probs) < len(logits) {
		s.probs = make([]float64, len(logits))
	}
	probs := s.probs[:len(logits)]

	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - maxv)
		probs[i] = e
		sum += e
	}
	for i := range probs {
		probs[i] /= sum
	}

	r := s.src.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return i, nil
		}
	}
	// Rounding can leave cum a hair below 1; the draw lands in the last
	// bucket.
	return len(logits) - 1, nil
}
