package train

import "fmt"

// Config holds the training hyperparameters.
type Config struct {
	Epochs        int // epochs to run in this invocation
	StartEpoch    int // last completed epoch, nonzero when resuming
	StepsPerEpoch int
	BatchSize     int
	SeqLen        int

	MaxLR       float64
	MinLR       float64
	WarmupSteps int
	WeightDecay float64
	GradClip    float64 // global gradient norm limit, 0 disables

	EvalFrac  float64 // corpus fraction held out for evaluation
	EvalEvery int     // steps between eval passes, 0 disables
	EvalIters int     // batches averaged per eval pass

	SampleEvery int    // steps between generation previews, 0 disables
	SampleText  string // seed text for previews
	SampleLen   int    // characters generated per preview

	LogEvery int // steps between progress lines, 0 disables

	Seed int64 // seeds batching and preview sampling
}

// DefaultConfig returns hyperparameters that take a small character GRU
// to a readable loss on a few megabytes of text within CPU minutes.
func DefaultConfig() Config {
	return Config{
		Epochs:        10,
		StepsPerEpoch: 500,
		BatchSize:     16,
		SeqLen:        64,
		MaxLR:         3e-3,
		MinLR:         3e-4,
		WarmupSteps:   100,
		WeightDecay:   0.01,
		GradClip:      1,
		EvalFrac:      0.1,
		EvalEvery:     100,
		EvalIters:     8,
		SampleEvery:   250,
		SampleText:    "\n",
		SampleLen:     160,
		LogEvery:      20,
		Seed:          42,
	}
}

func (c Config) validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("train: epochs %d, want > 0", c.Epochs)
	}
	if c.StartEpoch < 0 {
		return fmt.Errorf("train: start epoch %d, want >= 0", c.StartEpoch)
	}
	if c.StepsPerEpoch <= 0 {
		return fmt.Errorf("train: steps per epoch %d, want > 0", c.StepsPerEpoch)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("train: batch size %d, want > 0", c.BatchSize)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("train: seq len %d, want > 0", c.SeqLen)
	}
	if c.MaxLR <= 0 {
		return fmt.Errorf("train: max lr %g, want > 0", c.MaxLR)
	}
	if c.MinLR < 0 || c.MinLR > c.MaxLR {
		return fmt.Errorf("train: min lr %g, want in [0, %g]", c.MinLR, c.MaxLR)
	}
	if c.WarmupSteps < 0 {
		return fmt.Errorf("train: warmup steps %d, want >= 0", c.WarmupSteps)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("train: weight decay %g, want >= 0", c.WeightDecay)
	}
	if c.GradClip < 0 {
		return fmt.Errorf("train: grad clip %g, want >= 0", c.GradClip)
	}
	if c.EvalFrac < 0 || c.EvalFrac >= 1 {
		return fmt.Errorf("train: eval fraction %g, want in [0, 1)", c.EvalFrac)
	}
	if c.EvalEvery > 0 && c.EvalIters <= 0 {
		return fmt.Errorf("train: eval iters %d, want > 0 when eval runs", c.EvalIters)
	}
	if c.SampleEvery > 0 && (c.SampleText == "" || c.SampleLen <= 0) {
		return fmt.Errorf("train: preview needs seed text and a positive length")
	}
	return nil
}
