// Package nn provides the small dense autodiff the recurrent model is built
// on: row-major matrices with paired gradient buffers and a tape graph whose
// backward pass replays recorded closures in reverse.
package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Mat is a row-major matrix with a paired gradient buffer of the same shape.
type Mat struct {
	Rows, Cols int
	W          []float64
	DW         []float64
}

// NewMat allocates a zero matrix.
func NewMat(rows, cols int) *Mat {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("nn: invalid matrix shape %dx%d", rows, cols))
	}
	return &Mat{
		Rows: rows,
		Cols: cols,
		W:    make([]float64, rows*cols),
		DW:   make([]float64, rows*cols),
	}
}

// NewRandMat allocates a matrix filled with zero-mean Gaussian values of the
// given standard deviation.
func NewRandMat(rows, cols int, std float64, rng *rand.Rand) *Mat {
	m := NewMat(rows, cols)
	for i := range m.W {
		m.W[i] = rng.NormFloat64() * std
	}
	return m
}

// At returns the value at (r, c).
func (m *Mat) At(r, c int) float64 {
	return m.W[r*m.Cols+c]
}

// Set assigns the value at (r, c).
func (m *Mat) Set(r, c int, v float64) {
	m.W[r*m.Cols+c] = v
}

// Row returns a copy of row r.
func (m *Mat) Row(r int) []float64 {
	out := make([]float64, m.Cols)
	copy(out, m.W[r*m.Cols:(r+1)*m.Cols])
	return out
}

// ZeroGrad resets the gradient buffer.
func (m *Mat) ZeroGrad() {
	for i := range m.DW {
		m.DW[i] = 0
	}
}

// NumElements returns Rows*Cols.
func (m *Mat) NumElements() int {
	return m.Rows * m.Cols
}

// dense and denseGrad wrap the backing slices as gonum views without copying,
// so writes through the view land in W / DW directly.
func (m *Mat) dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, m.W)
}

func (m *Mat) denseGrad() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, m.DW)
}

// addDense accumulates a gonum result into a flat gradient slice.
func addDense(dst []float64, src *mat.Dense) {
	raw := src.RawMatrix()
	if raw.Stride == raw.Cols {
		for i, v := range raw.Data[:raw.Rows*raw.Cols] {
			dst[i] += v
		}
		return
	}
	idx := 0
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for _, v := range row {
			dst[idx] += v
			idx++
		}
	}
}
