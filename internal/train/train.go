// Package train drives optimization of a character GRU over an encoded
// corpus: random-window batches, truncated backprop through each window,
// AdamW with cosine learning rate decay, periodic held-out evaluation
// and generation previews, and a checkpoint per epoch.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/corpus"
	"github.com/samcharles93/runelm/internal/generate"
	"github.com/samcharles93/runelm/internal/logger"
	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/nn"
	"github.com/samcharles93/runelm/internal/sampling"
	"github.com/samcharles93/runelm/internal/vocab"
)

// Result summarizes a finished run.
type Result struct {
	Steps     int
	Epochs    int
	FinalLoss float64 // smoothed training loss at the end
	BestEval  float64 // lowest eval loss seen, +Inf when eval never ran
	Duration  time.Duration
}

// Trainer owns one training run: the model being optimized, its codec,
// the encoded corpus halves, and the places progress goes.
type Trainer struct {
	model *model.GRU
	voc   *vocab.Vocab
	cfg   Config
	log   logger.Logger
	store *ckptstore.Store

	trainIDs []int
	evalIDs  []int

	opt *nn.AdamW
	rng *rand.Rand
}

// New assembles a Trainer. evalIDs may be empty and store may be nil;
// those disable the eval pass and checkpointing respectively.
func New(m *model.GRU, voc *vocab.Vocab, trainIDs, evalIDs []int, cfg Config, log logger.Logger, store *ckptstore.Store) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if m == nil || voc == nil {
		return nil, errors.New("train: nil model or vocab")
	}
	if m.VocabSize() != voc.Size() {
		return nil, fmt.Errorf("train: model vocab size %d does not match codec size %d",
			m.VocabSize(), voc.Size())
	}
	if log == nil {
		log = logger.Default()
	}

	opt := nn.NewAdamW(m.Params(), cfg.MaxLR)
	opt.WeightDecay = cfg.WeightDecay
	opt.MaxGradNorm = cfg.GradClip

	return &Trainer{
		model:    m,
		voc:      voc,
		cfg:      cfg,
		log:      log,
		store:    store,
		trainIDs: trainIDs,
		evalIDs:  evalIDs,
		opt:      opt,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Run executes the configured epochs. Cancellation is checked between
// steps; a cancelled run returns ctx's error along with whatever the
// partial Result accumulated. Checkpoints land after each full epoch.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	res := Result{BestEval: math.Inf(1)}

	trainBatch, err := corpus.NewBatcher(t.trainIDs, t.cfg.SeqLen, t.cfg.BatchSize, t.rng)
	if err != nil {
		return res, fmt.Errorf("train: %w", err)
	}
	var evalBatch *corpus.Batcher
	if len(t.evalIDs) > 0 && t.cfg.EvalEvery > 0 {
		evalBatch, err = corpus.NewBatcher(t.evalIDs, t.cfg.SeqLen, t.cfg.BatchSize, t.rng)
		if err != nil {
			return res, fmt.Errorf("train: eval stream: %w", err)
		}
	}

	totalSteps := (t.cfg.StartEpoch + t.cfg.Epochs) * t.cfg.StepsPerEpoch
	globalStep := t.cfg.StartEpoch * t.cfg.StepsPerEpoch
	var smooth float64

	t.log.Info("training",
		"params", t.model.NumParams(),
		"vocab", t.voc.Size(),
		"train_chars", len(t.trainIDs),
		"eval_chars", len(t.evalIDs),
		"steps", totalSteps-globalStep,
	)

	for e := 0; e < t.cfg.Epochs; e++ {
		epoch := t.cfg.StartEpoch + e + 1
		epochStart := time.Now()

		for s := 0; s < t.cfg.StepsPerEpoch; s++ {
			if err := ctx.Err(); err != nil {
				res.Duration = time.Since(start)
				return res, err
			}
			globalStep++

			lr := nn.CosineSchedule(globalStep, t.cfg.WarmupSteps, totalSteps, t.cfg.MaxLR, t.cfg.MinLR)
			t.opt.SetLR(lr)

			inputs, targets := trainBatch.Next()
			g := nn.NewGraph(true)
			loss := t.batchLoss(g, inputs, targets)
			g.Backward()
			t.opt.Step()
			t.opt.ZeroGrad()

			if smooth == 0 {
				smooth = loss
			} else {
				smooth = 0.95*smooth + 0.05*loss
			}
			res.Steps++
			res.FinalLoss = smooth

			if t.cfg.LogEvery > 0 && globalStep%t.cfg.LogEvery == 0 {
				t.log.Info("step",
					"epoch", epoch,
					"step", globalStep,
					"loss", round4(loss),
					"smooth", round4(smooth),
					"lr", lr,
				)
			}
			if evalBatch != nil && globalStep%t.cfg.EvalEvery == 0 {
				ev := t.evalPass(evalBatch)
				if ev < res.BestEval {
					res.BestEval = ev
				}
				t.log.Info("eval", "step", globalStep, "loss", round4(ev), "best", round4(res.BestEval))
			}
			if t.cfg.SampleEvery > 0 && globalStep%t.cfg.SampleEvery == 0 {
				if text, err := t.preview(ctx); err != nil {
					t.log.Warn("preview failed", "err", err)
				} else {
					t.log.Info("sample", "step", globalStep, "text", text)
				}
			}
		}

		res.Epochs++
		if t.store != nil {
			meta := ckptstore.Meta{ModelName: "runelm", TrainLoss: smooth}
			path, err := t.store.Save(epoch, t.model, t.voc, meta)
			if err != nil {
				res.Duration = time.Since(start)
				return res, fmt.Errorf("train: checkpoint epoch %d: %w", epoch, err)
			}
			t.log.Info("checkpoint written", "epoch", epoch, "path", path)
		}
		t.log.Info("epoch complete",
			"epoch", epoch,
			"smooth", round4(smooth),
			"elapsed", time.Since(epochStart).Round(time.Millisecond),
		)
	}

	res.Duration = time.Since(start)
	return res, nil
}

// batchLoss runs one truncated-backprop window over the batch and
// returns the mean per-character loss. On a recording graph it also
// seeds the gradients SoftmaxCrossEntropy accumulates per timestep.
func (t *Trainer) batchLoss(g *nn.Graph, inputs, targets [][]int) float64 {
	st, ok := t.model.NewState().(*model.RunState)
	if !ok {
		panic("train: model state is not a RunState")
	}

	seqLen := len(inputs[0])
	scale := 1 / float64(seqLen)
	ids := make([]int, len(inputs))
	tgt := make([]int, len(inputs))

	var loss float64
	for pos := 0; pos < seqLen; pos++ {
		for b := range inputs {
			ids[b] = inputs[b][pos]
			tgt[b] = targets[b][pos]
		}
		x := t.model.Embed(g, ids)
		logits := t.model.Step(g, x, st)
		loss += g.SoftmaxCrossEntropy(logits, tgt, scale)
	}
	return loss * scale
}

// evalPass measures loss on the held-out stream without recording
// gradients.
func (t *Trainer) evalPass(b *corpus.Batcher) float64 {
	var total float64
	for i := 0; i < t.cfg.EvalIters; i++ {
		inputs, targets := b.Next()
		total += t.batchLoss(nn.NewGraph(false), inputs, targets)
	}
	return total / float64(t.cfg.EvalIters)
}

// preview samples a short continuation from the model as it stands.
func (t *Trainer) preview(ctx context.Context) (string, error) {
	gen := &generate.Generator{
		Model:   t.model,
		Vocab:   t.voc,
		Sampler: sampling.NewSeeded(t.rng.Int63()),
	}
	out, _, err := gen.RunWithContext(ctx, t.cfg.SampleText, t.cfg.SampleLen)
	return out, err
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
