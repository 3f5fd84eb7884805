package sampling

import (
	"math"
	"testing"
)

// fixedSource returns scripted draws, repeating the last one.
type fixedSource struct {
	vals []float64
	i    int
}

func (f *fixedSource) Float64() float64 {
	if f.i < len(f.vals)-1 {
		f.i++
		return f.vals[f.i-1]
	}
	return f.vals[len(f.vals)-1]
}

func TestSampleBuckets(t *testing.T) {
	// Equal logits: two buckets of 0.5 each.
	logits := []float32{0, 0}

	low := New(&fixedSource{vals: []float64{0.25}})
	if got, err := low.Sample(logits); err != nil || got != 0 {
		t.Fatalf("Sample(draw 0.25) = %d, %v; want 0", got, err)
	}

	high := New(&fixedSource{vals: []float64{0.75}})
	if got, err := high.Sample(logits); err != nil || got != 1 {
		t.Fatalf("Sample(draw 0.75) = %d, %v; want 1", got, err)
	}
}

func TestSampleFollowsMass(t *testing.T) {
	// Index 1 holds nearly all probability; a mid draw must land there.
	s := New(&fixedSource{vals: []float64{0.5}})
	got, err := s.Sample([]float32{0, 50, 0})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got != 1 {
		t.Fatalf("Sample = %d, want 1", got)
	}
}

func TestSampleReachesTailBucket(t *testing.T) {
	// A pure argmax would pin index 0 forever; a high draw must reach the
	// tail of a uniform distribution.
	s := New(&fixedSource{vals: []float64{0.99}})
	got, err := s.Sample([]float32{0, 0, 0})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got != 2 {
		t.Fatalf("Sample = %d, want 2", got)
	}
}

func TestSampleMatchesDistribution(t *testing.T) {
	// P(1) = 3/4 with logits ln(1), ln(3).
	s := NewSeeded(99)
	logits := []float32{0, float32(math.Log(3))}

	const draws = 20000
	var ones int
	for i := 0; i < draws; i++ {
		got, err := s.Sample(logits)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if got == 1 {
			ones++
		}
	}
	frac := float64(ones) / draws
	if frac < 0.73 || frac > 0.77 {
		t.Fatalf("P(1) estimate = %.4f over %d draws, want ~0.75", frac, draws)
	}
}

func TestSampleRoundingFallsIntoLastBucket(t *testing.T) {
	// A draw at the very top edge lands in the final bucket even when the
	// cumulative sum rounds below it.
	s := New(&fixedSource{vals: []float64{1.0}})
	got, err := s.Sample([]float32{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got != 3 {
		t.Fatalf("Sample = %d, want 3", got)
	}
}

func TestSampleErrors(t *testing.T) {
	s := NewSeeded(1)

	if _, err := s.Sample(nil); err == nil {
		t.Fatal("Sample(nil) succeeded, want error")
	}
	if _, err := s.Sample([]float32{1, float32(math.NaN())}); err == nil {
		t.Fatal("Sample with NaN succeeded, want error")
	}
	if _, err := s.Sample([]float32{1, float32(math.Inf(1))}); err == nil {
		t.Fatal("Sample with +Inf succeeded, want error")
	}
}

func TestSampleSeededDeterminism(t *testing.T) {
	logits := []float32{0.3, 1.2, -0.5, 2}

	a, b := NewSeeded(7), NewSeeded(7)
	for i := 0; i < 50; i++ {
		x, err := a.Sample(logits)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		y, err := b.Sample(logits)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if x != y {
			t.Fatalf("draw %d: %d vs %d with equal seeds", i, x, y)
		}
	}
}
