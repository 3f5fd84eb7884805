package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/runelm/internal/nn"
)

// Config sizes a GRU.
type Config struct {
	VocabSize int
	EmbedDim  int
	HiddenDim int
	Layers    int
}

func (c Config) validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("model: vocab size %d, want > 0", c.VocabSize)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("model: embed dim %d, want > 0", c.EmbedDim)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("model: hidden dim %d, want > 0", c.HiddenDim)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("model: layer count %d, want > 0", c.Layers)
	}
	return nil
}

// gruLayer holds one layer's gate weights. wx* act on the layer input, wh*
// on the carried hidden row.
type gruLayer struct {
	wxz, whz, bz *nn.Mat // update gate
	wxr, whr, br *nn.Mat // reset gate
	wxh, whh, bh *nn.Mat // candidate
}

// GRU is a stacked gated recurrent unit over character indices: embedding
// table, Layers GRU cells, output projection to vocab logits.
type GRU struct {
	cfg    Config
	emb    *nn.Mat // VocabSize x EmbedDim
	layers []gruLayer
	wy     *nn.Mat // HiddenDim x VocabSize
	by     *nn.Mat // 1 x VocabSize
}

const initStd = 0.08

// New builds a GRU with Gaussian-initialized weights drawn from rng. Biases
// start at zero.
func New(cfg Config, rng *rand.Rand) (*GRU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &GRU{
		cfg: cfg,
		emb: nn.NewRandMat(cfg.VocabSize, cfg.EmbedDim, initStd, rng),
		wy:  nn.NewRandMat(cfg.HiddenDim, cfg.VocabSize, initStd, rng),
		by:  nn.NewMat(1, cfg.VocabSize),
	}
	in := cfg.EmbedDim
	for l := 0; l < cfg.Layers; l++ {
		m.layers = append(m.layers, gruLayer{
			wxz: nn.NewRandMat(in, cfg.HiddenDim, initStd, rng),
			whz: nn.NewRandMat(cfg.HiddenDim, cfg.HiddenDim, initStd, rng),
			bz:  nn.NewMat(1, cfg.HiddenDim),
			wxr: nn.NewRandMat(in, cfg.HiddenDim, initStd, rng),
			whr: nn.NewRandMat(cfg.HiddenDim, cfg.HiddenDim, initStd, rng),
			br:  nn.NewMat(1, cfg.HiddenDim),
			wxh: nn.NewRandMat(in, cfg.HiddenDim, initStd, rng),
			whh: nn.NewRandMat(cfg.HiddenDim, cfg.HiddenDim, initStd, rng),
			bh:  nn.NewMat(1, cfg.HiddenDim),
		})
		in = cfg.HiddenDim
	}
	return m, nil
}

// NewZero builds a GRU with all-zero weights, for checkpoint restore.
func NewZero(cfg Config) (*GRU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &GRU{
		cfg: cfg,
		emb: nn.NewMat(cfg.VocabSize, cfg.EmbedDim),
		wy:  nn.NewMat(cfg.HiddenDim, cfg.VocabSize),
		by:  nn.NewMat(1, cfg.VocabSize),
	}
	in := cfg.EmbedDim
	for l := 0; l < cfg.Layers; l++ {
		m.layers = append(m.layers, gruLayer{
			wxz: nn.NewMat(in, cfg.HiddenDim),
			whz: nn.NewMat(cfg.HiddenDim, cfg.HiddenDim),
			bz:  nn.NewMat(1, cfg.HiddenDim),
			wxr: nn.NewMat(in, cfg.HiddenDim),
			whr: nn.NewMat(cfg.HiddenDim, cfg.HiddenDim),
			br:  nn.NewMat(1, cfg.HiddenDim),
			wxh: nn.NewMat(in, cfg.HiddenDim),
			whh: nn.NewMat(cfg.HiddenDim, cfg.HiddenDim),
			bh:  nn.NewMat(1, cfg.HiddenDim),
		})
		in = cfg.HiddenDim
	}
	return m, nil
}

// RunState is the GRU's recurrent memory: one hidden matrix per layer, one
// row per sequence in the batch. Hidden matrices are sized lazily on the
// first step, so the same state type serves batch-1 generation and batched
// training windows. Reset drops them back to zero history.
type RunState struct {
	h []*nn.Mat
}

// Reset returns the state to the no-history condition.
func (s *RunState) Reset() {
	for i := range s.h {
		s.h[i] = nil
	}
}

func (s *RunState) checkBatch(n int) error {
	for _, h := range s.h {
		if h != nil && h.Rows != n {
			return fmt.Errorf("model: state batch %d does not match input batch %d", h.Rows, n)
		}
	}
	return nil
}

// NewState returns a fresh zero-history state for this model.
func (m *GRU) NewState() State {
	return &RunState{h: make([]*nn.Mat, len(m.layers))}
}

// VocabSize returns the logits width.
func (m *GRU) VocabSize() int {
	return m.cfg.VocabSize
}

// Config returns the model dimensions.
func (m *GRU) Config() Config {
	return m.cfg
}

// Embed gathers embedding rows for one timestep across the batch.
func (m *GRU) Embed(g *nn.Graph, ids []int) *nn.Mat {
	return g.Lookup(m.emb, ids)
}

// Step advances one timestep. x holds the embedded inputs, one row per
// sequence; the new hidden rows are written back into st and the step's
// logits are returned. Per gate, with x the layer input and h the carried
// hidden row:
//
//	z = sigmoid(x·Wxz + h·Whz + bz)
//	r = sigmoid(x·Wxr + h·Whr + br)
//	c = tanh(x·Wxh + (r∘h)·Whh + bh)
//	h' = (1-z)∘h + z∘c
func (m *GRU) Step(g *nn.Graph, x *nn.Mat, st *RunState) *nn.Mat {
	inp := x
	for l := range m.layers {
		ly := &m.layers[l]
		h := st.h[l]
		if h == nil {
			h = nn.NewMat(inp.Rows, m.cfg.HiddenDim)
		}
		z := g.Sigmoid(g.AddRow(g.Add(g.Mul(inp, ly.wxz), g.Mul(h, ly.whz)), ly.bz))
		r := g.Sigmoid(g.AddRow(g.Add(g.Mul(inp, ly.wxr), g.Mul(h, ly.whr)), ly.br))
		c := g.Tanh(g.AddRow(g.Add(g.Mul(inp, ly.wxh), g.Mul(g.Eltmul(r, h), ly.whh)), ly.bh))
		h = g.Add(g.Eltmul(g.OneMinus(z), h), g.Eltmul(z, c))
		st.h[l] = h
		inp = h
	}
	return g.AddRow(g.Mul(inp, m.wy), m.by)
}

// Forward runs ids through the model one position at a time under st and
// returns the logits row for every position.
func (m *GRU) Forward(st State, ids []int) ([][]float32, error) {
	rs, ok := st.(*RunState)
	if !ok || len(rs.h) != len(m.layers) {
		return nil, fmt.Errorf("model: state %T does not belong to this model", st)
	}
	if len(ids) == 0 {
		return nil, errors.New("model: empty input")
	}
	for _, id := range ids {
		if id < 0 || id >= m.cfg.VocabSize {
			return nil, fmt.Errorf("model: index %d out of range [0,%d)", id, m.cfg.VocabSize)
		}
	}
	if err := rs.checkBatch(1); err != nil {
		return nil, err
	}

	g := nn.NewGraph(false)
	out := make([][]float32, 0, len(ids))
	for _, id := range ids {
		x := m.Embed(g, []int{id})
		logits := m.Step(g, x, rs)
		row := make([]float32, logits.Cols)
		for c := 0; c < logits.Cols; c++ {
			row[c] = float32(logits.W[c])
		}
		out = append(out, row)
	}
	return out, nil
}

// Params returns every parameter matrix, in a stable order.
func (m *GRU) Params() []*nn.Mat {
	out := []*nn.Mat{m.emb}
	for l := range m.layers {
		ly := &m.layers[l]
		out = append(out, ly.wxz, ly.whz, ly.bz, ly.wxr, ly.whr, ly.br, ly.wxh, ly.whh, ly.bh)
	}
	return append(out, m.wy, m.by)
}

// NumParams returns the total parameter count.
func (m *GRU) NumParams() int64 {
	var n int64
	for _, p := range m.Params() {
		n += int64(p.NumElements())
	}
	return n
}

// Tensors returns the parameter matrices keyed by their checkpoint names.
func (m *GRU) Tensors() map[string]*nn.Mat {
	t := map[string]*nn.Mat{
		"emb.weight": m.emb,
		"out.weight": m.wy,
		"out.bias":   m.by,
	}
	for l := range m.layers {
		ly := &m.layers[l]
		t[fmt.Sprintf("gru.%d.wxz", l)] = ly.wxz
		t[fmt.Sprintf("gru.%d.whz", l)] = ly.whz
		t[fmt.Sprintf("gru.%d.bz", l)] = ly.bz
		t[fmt.Sprintf("gru.%d.wxr", l)] = ly.wxr
		t[fmt.Sprintf("gru.%d.whr", l)] = ly.whr
		t[fmt.Sprintf("gru.%d.br", l)] = ly.br
		t[fmt.Sprintf("gru.%d.wxh", l)] = ly.wxh
		t[fmt.Sprintf("gru.%d.whh", l)] = ly.whh
		t[fmt.Sprintf("gru.%d.bh", l)] = ly.bh
	}
	return t
}
