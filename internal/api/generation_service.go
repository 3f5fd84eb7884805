package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/generate"
	"github.com/samcharles93/runelm/internal/sampling"
	"github.com/samcharles93/runelm/internal/vocab"
)

// maxGenerationLength bounds a single request's output.
const maxGenerationLength = 100_000

var timeNow = func() time.Time { return time.Now() }

// StreamWriter receives a generation as it happens.
type StreamWriter interface {
	// Delta emits one generated character.
	Delta(delta string) error
	// Complete emits the finished generation and terminates the stream.
	Complete(gen Generation) error
	// Failed reports err on the stream and terminates it.
	Failed(err error) error
	// Started reports whether anything has been written yet.
	Started() bool
}

// GenerationService validates requests and runs them against the
// provider's current checkpoint.
type GenerationService struct {
	provider GeneratorProvider
}

func NewGenerationService(provider GeneratorProvider) *GenerationService {
	return &GenerationService{provider: provider}
}

// Generate runs one generation. With a non-nil stream every character
// goes out as it is drawn and the completed Generation is emitted last;
// the returned value is the same object.
func (s *GenerationService) Generate(ctx context.Context, req *GenerationRequest, stream StreamWriter) (*Generation, error) {
	if req.Seed == "" {
		return nil, newInvalidRequest("seed is required and must not be empty")
	}
	if req.Length < 0 {
		return nil, newInvalidRequest("length must not be negative")
	}
	if req.Length > maxGenerationLength {
		return nil, newInvalidRequest(fmt.Sprintf("length must not exceed %d", maxGenerationLength))
	}

	gen := Generation{
		ID:      "gen_" + uuid.NewString(),
		Object:  "generation",
		Created: timeNow().Unix(),
		Seed:    req.Seed,
	}

	err := s.provider.WithModel(ctx, func(ckpt *ckptstore.Checkpoint, checkpointID string) error {
		g := &generate.Generator{
			Model:   ckpt.Model,
			Vocab:   ckpt.Vocab,
			Sampler: newSampler(req.SamplerSeed),
		}
		if stream != nil {
			g.Stream = func(ch string) { _ = stream.Delta(ch) }
		}

		text, stats, err := g.RunWithContext(ctx, req.Seed, req.Length)
		if err != nil {
			return err
		}

		gen.Checkpoint = checkpointID
		gen.Text = text
		gen.Output = text[len(req.Seed):]
		gen.Usage = GenerationUsage{
			SeedChars:      stats.SeedChars,
			GeneratedChars: stats.GeneratedChars,
			DurationMS:     stats.Duration.Milliseconds(),
			CharsPerSecond: stats.CharsPerSecond,
		}
		return nil
	})
	if err != nil {
		// A seed outside the checkpoint's alphabet is the caller's
		// mistake, not the server's.
		if errors.Is(err, vocab.ErrUnknownChar) {
			err = newInvalidRequest(err.Error())
		}
		if stream != nil {
			_ = stream.Failed(err)
		}
		return nil, err
	}

	if stream != nil {
		if err := stream.Complete(gen); err != nil {
			return &gen, err
		}
	}
	return &gen, nil
}

func newSampler(seed *int64) *sampling.Sampler {
	if seed != nil {
		return sampling.NewSeeded(*seed)
	}
	return sampling.NewSeeded(timeNow().UnixNano())
}
