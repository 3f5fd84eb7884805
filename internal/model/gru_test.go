package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/runelm/internal/nn"
)

func testGRU(t *testing.T) *GRU {
	t.Helper()
	m, err := New(Config{VocabSize: 5, EmbedDim: 4, HiddenDim: 6, Layers: 2}, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero vocab", Config{VocabSize: 0, EmbedDim: 4, HiddenDim: 4, Layers: 1}},
		{"zero embed", Config{VocabSize: 4, EmbedDim: 0, HiddenDim: 4, Layers: 1}},
		{"zero hidden", Config{VocabSize: 4, EmbedDim: 4, HiddenDim: 0, Layers: 1}},
		{"zero layers", Config{VocabSize: 4, EmbedDim: 4, HiddenDim: 4, Layers: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, rand.New(rand.NewSource(1))); err == nil {
				t.Fatalf("New(%+v) succeeded, want error", tc.cfg)
			}
		})
	}
}

func TestForwardShapes(t *testing.T) {
	m := testGRU(t)
	st := m.NewState()

	rows, err := m.Forward(st, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d logits rows, want 3", len(rows))
	}
	for i, row := range rows {
		if len(row) != m.VocabSize() {
			t.Fatalf("row %d has width %d, want %d", i, len(row), m.VocabSize())
		}
	}
}

func TestForwardDeterministic(t *testing.T) {
	m := testGRU(t)

	r1, err := m.Forward(m.NewState(), []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	r2, err := m.Forward(m.NewState(), []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range r1 {
		for c := range r1[i] {
			if r1[i][c] != r2[i][c] {
				t.Fatalf("row %d col %d differs: %g vs %g", i, c, r1[i][c], r2[i][c])
			}
		}
	}
}

// Feeding a sequence all at once and feeding it one index at a time under
// the same state must end at the same logits: history lives in the state,
// not in re-fed prefixes.
func TestStateCarriesHistory(t *testing.T) {
	m := testGRU(t)
	seq := []int{0, 3, 1, 4}

	whole, err := m.Forward(m.NewState(), seq)
	if err != nil {
		t.Fatalf("Forward whole: %v", err)
	}

	st := m.NewState()
	var last []float32
	for _, id := range seq {
		rows, err := m.Forward(st, []int{id})
		if err != nil {
			t.Fatalf("Forward step %d: %v", id, err)
		}
		last = rows[0]
	}

	wantLast := whole[len(whole)-1]
	for c := range wantLast {
		if math.Abs(float64(wantLast[c]-last[c])) > 1e-6 {
			t.Fatalf("col %d: whole-sequence %g vs stepwise %g", c, wantLast[c], last[c])
		}
	}
}

func TestResetDropsHistory(t *testing.T) {
	m := testGRU(t)
	st := m.NewState()

	if _, err := m.Forward(st, []int{1, 2, 3, 4}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	st.Reset()
	after, err := m.Forward(st, []int{0})
	if err != nil {
		t.Fatalf("Forward after reset: %v", err)
	}

	fresh, err := m.Forward(m.NewState(), []int{0})
	if err != nil {
		t.Fatalf("Forward fresh: %v", err)
	}
	for c := range fresh[0] {
		if after[0][c] != fresh[0][c] {
			t.Fatalf("col %d: reset state %g vs fresh state %g", c, after[0][c], fresh[0][c])
		}
	}
}

type foreignState struct{}

func (foreignState) Reset() {}

func TestForwardRejectsMalformedInput(t *testing.T) {
	m := testGRU(t)

	if _, err := m.Forward(m.NewState(), nil); err == nil {
		t.Fatal("Forward with no ids succeeded, want error")
	}
	if _, err := m.Forward(m.NewState(), []int{5}); err == nil {
		t.Fatal("Forward with out-of-range id succeeded, want error")
	}
	if _, err := m.Forward(m.NewState(), []int{-1}); err == nil {
		t.Fatal("Forward with negative id succeeded, want error")
	}
	if _, err := m.Forward(foreignState{}, []int{0}); err == nil {
		t.Fatal("Forward with foreign state succeeded, want error")
	}
}

func TestForwardRejectsBatchedState(t *testing.T) {
	m := testGRU(t)

	// Drive the state to batch 2 through the training-path Step.
	st := m.NewState().(*RunState)
	g := nn.NewGraph(false)
	m.Step(g, m.Embed(g, []int{0, 1}), st)

	if _, err := m.Forward(st, []int{0}); err == nil {
		t.Fatal("Forward with batch-2 state succeeded, want error")
	}
}

func TestNumParams(t *testing.T) {
	cfg := Config{VocabSize: 5, EmbedDim: 4, HiddenDim: 6, Layers: 2}
	m, err := New(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// emb + out projection.
	want := int64(5*4 + 6*5 + 5)
	// Layer 0 input is EmbedDim, layer 1 input HiddenDim; 3 gates each.
	want += int64(3 * (4*6 + 6*6 + 6))
	want += int64(3 * (6*6 + 6*6 + 6))

	if got := m.NumParams(); got != want {
		t.Fatalf("NumParams = %d, want %d", got, want)
	}
	if got := len(m.Tensors()); got != 3+9*2 {
		t.Fatalf("Tensors count = %d, want %d", got, 3+9*2)
	}
}
