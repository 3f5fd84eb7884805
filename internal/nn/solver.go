package nn

import "math"

// AdamW implements Adam with decoupled weight decay over Mat parameters.
// Gradients must be accumulated into each parameter's DW before Step.
type AdamW struct {
	Params      []*Mat
	LR          float64
	Beta1       float64 // first moment decay
	Beta2       float64 // second moment decay
	Eps         float64
	WeightDecay float64
	MaxGradNorm float64 // global-norm clip, 0 disables

	m    [][]float64
	v    [][]float64
	step int
}

// NewAdamW creates an optimizer with the usual defaults. Callers tune
// WeightDecay and MaxGradNorm afterwards when their model wants different
// values.
func NewAdamW(params []*Mat, lr float64) *AdamW {
	m := make([][]float64, len(params))
	v := make([][]float64, len(params))
	for i, p := range params {
		m[i] = make([]float64, p.NumElements())
		v[i] = make([]float64, p.NumElements())
	}
	return &AdamW{
		Params:      params,
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.95,
		Eps:         1e-8,
		WeightDecay: 0.01,
		MaxGradNorm: 1.0,
		m:           m,
		v:           v,
	}
}

// Step applies one update from the accumulated gradients.
func (o *AdamW) Step() {
	o.step++

	if o.MaxGradNorm > 0 {
		o.clipGradNorm()
	}

	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for i, p := range o.Params {
		m := o.m[i]
		v := o.v[i]
		for j, grad := range p.DW {
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*grad
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*grad*grad

			mHat := m[j] / bc1
			vHat := v[j] / bc2

			update := mHat / (math.Sqrt(vHat) + o.Eps)
			p.W[j] -= o.LR * (update + o.WeightDecay*p.W[j])
		}
	}
}

// ZeroGrad clears every parameter gradient.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.Params {
		p.ZeroGrad()
	}
}

// SetLR updates the learning rate (for scheduling).
func (o *AdamW) SetLR(lr float64) {
	o.LR = lr
}

func (o *AdamW) clipGradNorm() {
	var total float64
	for _, p := range o.Params {
		for _, g := range p.DW {
			total += g * g
		}
	}
	total = math.Sqrt(total)
	if total <= o.MaxGradNorm {
		return
	}
	scale := o.MaxGradNorm / total
	for _, p := range o.Params {
		for i := range p.DW {
			p.DW[i] *= scale
		}
	}
}

// CosineSchedule computes a learning rate with linear warmup followed by
// cosine decay from maxLR to minLR.
func CosineSchedule(step, warmupSteps, totalSteps int, maxLR, minLR float64) float64 {
	if warmupSteps > 0 && step < warmupSteps {
		return maxLR * float64(step) / float64(warmupSteps)
	}
	if totalSteps <= warmupSteps {
		return minLR
	}
	progress := float64(step-warmupSteps) / float64(totalSteps-warmupSteps)
	if progress > 1 {
		progress = 1
	}
	return minLR + 0.5*(maxLR-minLR)*(1+math.Cos(math.Pi*progress))
}
