package nn

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Graph is the autodiff tape. Ops run against a graph with NeedsBackprop set
// record a closure describing how to push gradients back through them;
// Backward replays the tape in reverse. Inference uses the same ops on a
// graph that records nothing.
type Graph struct {
	NeedsBackprop bool
	tape          []func()
}

// NewGraph returns an empty tape.
func NewGraph(needsBackprop bool) *Graph {
	return &Graph{NeedsBackprop: needsBackprop}
}

// Backward replays the tape in reverse, accumulating gradients into the DW
// buffers of every matrix the recorded ops touched.
func (g *Graph) Backward() {
	for i := len(g.tape) - 1; i >= 0; i-- {
		g.tape[i]()
	}
}

func (g *Graph) record(f func()) {
	if g.NeedsBackprop {
		g.tape = append(g.tape, f)
	}
}

func sameShape(op string, a, b *Mat) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("nn: %s shape mismatch %dx%d vs %dx%d", op, a.Rows, a.Cols, b.Rows, b.Cols))
	}
}

// Mul returns the matrix product a·b.
func (g *Graph) Mul(a, b *Mat) *Mat {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("nn: Mul shape mismatch %dx%d · %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := NewMat(a.Rows, b.Cols)
	out.dense().Mul(a.dense(), b.dense())
	g.record(func() {
		var da, db mat.Dense
		da.Mul(out.denseGrad(), b.dense().T())
		db.Mul(a.dense().T(), out.denseGrad())
		addDense(a.DW, &da)
		addDense(b.DW, &db)
	})
	return out
}

// Add returns the elementwise sum of two equally shaped matrices.
func (g *Graph) Add(a, b *Mat) *Mat {
	sameShape("Add", a, b)
	out := NewMat(a.Rows, a.Cols)
	for i := range out.W {
		out.W[i] = a.W[i] + b.W[i]
	}
	g.record(func() {
		for i := range out.DW {
			a.DW[i] += out.DW[i]
			b.DW[i] += out.DW[i]
		}
	})
	return out
}

// AddRow broadcasts a 1xN row (a bias) over every row of m.
func (g *Graph) AddRow(m, row *Mat) *Mat {
	if row.Rows != 1 || row.Cols != m.Cols {
		panic(fmt.Sprintf("nn: AddRow wants 1x%d bias, got %dx%d", m.Cols, row.Rows, row.Cols))
	}
	out := NewMat(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		base := r * m.Cols
		for c := 0; c < m.Cols; c++ {
			out.W[base+c] = m.W[base+c] + row.W[c]
		}
	}
	g.record(func() {
		for r := 0; r < m.Rows; r++ {
			base := r * m.Cols
			for c := 0; c < m.Cols; c++ {
				d := out.DW[base+c]
				m.DW[base+c] += d
				row.DW[c] += d
			}
		}
	})
	return out
}

// Eltmul returns the elementwise product of two equally shaped matrices.
func (g *Graph) Eltmul(a, b *Mat) *Mat {
	sameShape("Eltmul", a, b)
	out := NewMat(a.Rows, a.Cols)
	for i := range out.W {
		out.W[i] = a.W[i] * b.W[i]
	}
	g.record(func() {
		for i := range out.DW {
			a.DW[i] += b.W[i] * out.DW[i]
			b.DW[i] += a.W[i] * out.DW[i]
		}
	})
	return out
}

// OneMinus returns 1 - m elementwise.
func (g *Graph) OneMinus(m *Mat) *Mat {
	out := NewMat(m.Rows, m.Cols)
	for i := range out.W {
		out.W[i] = 1 - m.W[i]
	}
	g.record(func() {
		for i := range out.DW {
			m.DW[i] -= out.DW[i]
		}
	})
	return out
}

// Sigmoid applies the logistic function elementwise.
func (g *Graph) Sigmoid(m *Mat) *Mat {
	out := NewMat(m.Rows, m.Cols)
	for i, v := range m.W {
		out.W[i] = 1 / (1 + math.Exp(-v))
	}
	g.record(func() {
		for i := range out.DW {
			m.DW[i] += out.W[i] * (1 - out.W[i]) * out.DW[i]
		}
	})
	return out
}

// Tanh applies tanh elementwise.
func (g *Graph) Tanh(m *Mat) *Mat {
	out := NewMat(m.Rows, m.Cols)
	for i, v := range m.W {
		out.W[i] = math.Tanh(v)
	}
	g.record(func() {
		for i := range out.DW {
			m.DW[i] += (1 - out.W[i]*out.W[i]) * out.DW[i]
		}
	})
	return out
}

// Lookup gathers table rows for ids into a len(ids) x table.Cols matrix. The
// backward pass scatter-adds into the gathered rows, so repeated ids
// accumulate.
func (g *Graph) Lookup(table *Mat, ids []int) *Mat {
	if len(ids) == 0 {
		panic("nn: Lookup with no ids")
	}
	out := NewMat(len(ids), table.Cols)
	for i, id := range ids {
		if id < 0 || id >= table.Rows {
			panic(fmt.Sprintf("nn: Lookup id %d out of range [0,%d)", id, table.Rows))
		}
		copy(out.W[i*table.Cols:(i+1)*table.Cols], table.W[id*table.Cols:(id+1)*table.Cols])
	}
	rows := slices.Clone(ids)
	g.record(func() {
		for i, id := range rows {
			src := out.DW[i*table.Cols : (i+1)*table.Cols]
			dst := table.DW[id*table.Cols : (id+1)*table.Cols]
			for j, v := range src {
				dst[j] += v
			}
		}
	})
	return out
}

// SoftmaxCrossEntropy is the loss terminal: it returns the mean negative
// log-likelihood of targets under the row-wise softmax of logits, and seeds
// gradScale * (softmax - onehot) / rows into logits.DW on the backward pass.
// Callers accumulating over T timesteps pass gradScale = 1/T.
func (g *Graph) SoftmaxCrossEntropy(logits *Mat, targets []int, gradScale float64) float64 {
	if len(targets) != logits.Rows {
		panic(fmt.Sprintf("nn: SoftmaxCrossEntropy wants %d targets, got %d", logits.Rows, len(targets)))
	}
	probs := make([]float64, len(logits.W))
	var loss float64
	for r := 0; r < logits.Rows; r++ {
		row := logits.W[r*logits.Cols : (r+1)*logits.Cols]
		prow := probs[r*logits.Cols : (r+1)*logits.Cols]

		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		for c, v := range row {
			e := math.Exp(v - maxv)
			prow[c] = e
			sum += e
		}
		inv := 1 / sum
		for c := range prow {
			prow[c] *= inv
		}

		t := targets[r]
		if t < 0 || t >= logits.Cols {
			panic(fmt.Sprintf("nn: target %d out of range [0,%d)", t, logits.Cols))
		}
		loss -= math.Log(math.Max(prow[t], 1e-12))
	}
	loss /= float64(logits.Rows)

	ts := slices.Clone(targets)
	g.record(func() {
		scale := gradScale / float64(logits.Rows)
		for r := 0; r < logits.Rows; r++ {
			base := r * logits.Cols
			t := ts[r]
			for c := 0; c < logits.Cols; c++ {
				grad := probs[base+c]
				if c == t {
					grad--
				}
				logits.DW[base+c] += grad * scale
			}
		}
	})
	return loss
}
