package train

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/logger"
	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/vocab"
)

func testSetup(t *testing.T, text string) (*model.GRU, *vocab.Vocab, []int) {
	t.Helper()

	voc, err := vocab.Build(text)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ids, err := voc.Encode(text)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	m, err := model.New(model.Config{
		VocabSize: voc.Size(),
		EmbedDim:  8,
		HiddenDim: 16,
		Layers:    1,
	}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("New model: %v", err)
	}
	return m, voc, ids
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Epochs = 1
	cfg.StepsPerEpoch = 100
	cfg.BatchSize = 8
	cfg.SeqLen = 8
	cfg.MaxLR = 0.01
	cfg.MinLR = 0.001
	cfg.WarmupSteps = 10
	cfg.EvalEvery = 0
	cfg.SampleEvery = 0
	cfg.LogEvery = 0
	cfg.Seed = 1
	return cfg
}

func TestDefaultConfigValid(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().validate(); err != nil {
		t.Fatalf("DefaultConfig does not validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"negative start epoch", func(c *Config) { c.StartEpoch = -1 }},
		{"zero steps", func(c *Config) { c.StepsPerEpoch = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero seq len", func(c *Config) { c.SeqLen = 0 }},
		{"zero max lr", func(c *Config) { c.MaxLR = 0 }},
		{"min above max", func(c *Config) { c.MinLR = c.MaxLR * 2 }},
		{"negative warmup", func(c *Config) { c.WarmupSteps = -1 }},
		{"negative decay", func(c *Config) { c.WeightDecay = -0.1 }},
		{"negative clip", func(c *Config) { c.GradClip = -1 }},
		{"eval fraction one", func(c *Config) { c.EvalFrac = 1 }},
		{"eval without iters", func(c *Config) { c.EvalIters = 0 }},
		{"preview without seed text", func(c *Config) { c.SampleText = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestNewRejects(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("hello world. ", 50)
	m, voc, ids := testSetup(t, text)
	cfg := quietConfig()

	if _, err := New(nil, voc, ids, nil, cfg, logger.Discard(), nil); err == nil {
		t.Fatal("expected error for nil model")
	}
	if _, err := New(m, nil, ids, nil, cfg, logger.Discard(), nil); err == nil {
		t.Fatal("expected error for nil vocab")
	}

	other, err := vocab.Build("xyz")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(m, other, ids, nil, cfg, logger.Discard(), nil); err == nil {
		t.Fatal("expected error for vocab size mismatch")
	}
}

func TestRunReducesLoss(t *testing.T) {
	t.Parallel()

	// Periodic text is almost fully predictable, so a working loop must
	// push the loss well below the uniform baseline log(vocab). The
	// threshold also sits under the unigram entropy of the text, which
	// rules out a loop that only learns character frequencies.
	text := strings.Repeat("hello world. ", 200)
	m, voc, ids := testSetup(t, text)

	cfg := quietConfig()
	cfg.StepsPerEpoch = 150

	tr, err := New(m, voc, ids, nil, cfg, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Steps != 150 || res.Epochs != 1 {
		t.Fatalf("res = %d steps / %d epochs, want 150/1", res.Steps, res.Epochs)
	}
	baseline := math.Log(float64(voc.Size()))
	if res.FinalLoss >= baseline*0.85 {
		t.Fatalf("final loss %.4f did not move from baseline %.4f", res.FinalLoss, baseline)
	}
	if !math.IsInf(res.BestEval, 1) {
		t.Fatalf("BestEval = %v with eval disabled, want +Inf", res.BestEval)
	}
	if res.Duration <= 0 {
		t.Fatal("expected a positive duration")
	}
}

func TestRunEvalAndPreview(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("hello world. ", 100)
	m, voc, ids := testSetup(t, text)

	// Hold out a tail for evaluation.
	split := len(ids) * 9 / 10
	trainIDs, evalIDs := ids[:split], ids[split:]

	cfg := quietConfig()
	cfg.StepsPerEpoch = 6
	cfg.EvalEvery = 2
	cfg.EvalIters = 1
	cfg.SampleEvery = 3
	cfg.SampleText = "hello"
	cfg.SampleLen = 5

	var buf bytes.Buffer
	log := logger.JSON(&buf, slog.LevelInfo)

	tr, err := New(m, voc, trainIDs, evalIDs, cfg, log, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if math.IsInf(res.BestEval, 1) {
		t.Fatal("eval never ran")
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"eval"`) {
		t.Fatalf("expected eval log lines, got: %s", out)
	}
	if !strings.Contains(out, `"msg":"sample"`) {
		t.Fatalf("expected sample log lines, got: %s", out)
	}
}

func TestRunWritesCheckpoints(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("hello world. ", 100)
	m, voc, ids := testSetup(t, text)

	cfg := quietConfig()
	cfg.Epochs = 2
	cfg.StepsPerEpoch = 3

	store := ckptstore.New(t.TempDir())
	tr, err := New(m, voc, ids, nil, cfg, logger.Discard(), store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Epoch != 1 || entries[1].Epoch != 2 {
		t.Fatalf("entries = %+v, want epochs 1 and 2", entries)
	}

	ckpt, latest, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.Epoch != 2 {
		t.Fatalf("latest epoch = %d, want 2", latest.Epoch)
	}
	if ckpt.Model.Config() != m.Config() {
		t.Fatalf("restored config %+v, want %+v", ckpt.Model.Config(), m.Config())
	}

	// Resuming continues the epoch numbering.
	cfg.StartEpoch = 2
	cfg.Epochs = 1
	tr, err = New(ckpt.Model, ckpt.Vocab, ids, nil, cfg, logger.Discard(), store)
	if err != nil {
		t.Fatalf("New resumed: %v", err)
	}
	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run resumed: %v", err)
	}
	entry, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry.Epoch != 3 {
		t.Fatalf("latest epoch after resume = %d, want 3", entry.Epoch)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("hello world. ", 100)
	m, voc, ids := testSetup(t, text)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := New(m, voc, ids, nil, quietConfig(), logger.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := tr.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Steps != 0 {
		t.Fatalf("res.Steps = %d after immediate cancel, want 0", res.Steps)
	}
}

func TestRunRejectsShortCorpus(t *testing.T) {
	t.Parallel()

	m, voc, ids := testSetup(t, "hello")
	cfg := quietConfig()
	cfg.SeqLen = 64

	tr, err := New(m, voc, ids, nil, cfg, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Run(context.Background()); err == nil {
		t.Fatal("expected error for a corpus shorter than one window")
	}
}
