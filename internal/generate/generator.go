// Package generate implements seed-conditioned character generation: encode
// the seed, prime a fresh model state with all of it, then repeatedly sample
// one index from the final logits row and feed only that index back, letting
// the model's state carry the history.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/sampling"
	"github.com/samcharles93/runelm/internal/vocab"
)

// ErrModelQuery marks a failure bubbled up from the model capability. The
// run that hit it is abandoned; there are no retries.
var ErrModelQuery = errors.New("generate: model query failed")

// Stats describes one finished run.
type Stats struct {
	SeedChars      int
	GeneratedChars int
	Duration       time.Duration
	CharsPerSecond float64
}

// Generator runs the autoregressive loop against a model and codec.
type Generator struct {
	Model   model.Model
	Vocab   *vocab.Vocab
	Sampler *sampling.Sampler

	// Stream, when set, receives each generated character as it is drawn.
	// On a failed run the returned text is still empty even if Stream saw
	// earlier characters.
	Stream func(string)
}

// Run generates numGenerate characters conditioned on seed and returns the
// seed with the generated text appended.
func (g *Generator) Run(seed string, numGenerate int) (string, Stats, error) {
	return g.RunWithContext(context.Background(), seed, numGenerate)
}

// RunWithContext is Run honoring ctx between sampling steps. Any failure
// aborts the run with an empty result: a run completes in full or not at
// all.
func (g *Generator) RunWithContext(ctx context.Context, seed string, numGenerate int) (string, Stats, error) {
	if seed == "" {
		return "", Stats{}, errors.New("generate: empty seed")
	}
	if numGenerate < 0 {
		return "", Stats{}, fmt.Errorf("generate: negative character count %d", numGenerate)
	}
	seedLen := len([]rune(seed))
	if numGenerate == 0 {
		return seed, Stats{SeedChars: seedLen}, nil
	}

	ids, err := g.Vocab.Encode(seed)
	if err != nil {
		return "", Stats{}, fmt.Errorf("encode seed: %w", err)
	}

	start := time.Now()

	// Every run primes a fresh state with the whole seed; no history leaks
	// in from earlier runs.
	st := g.Model.NewState()
	logits, err := g.query(st, ids)
	if err != nil {
		return "", Stats{}, err
	}

	var out strings.Builder
	for i := 0; i < numGenerate; i++ {
		if err := ctx.Err(); err != nil {
			return "", Stats{}, err
		}

		next, err := g.Sampler.Sample(logits)
		if err != nil {
			return "", Stats{}, fmt.Errorf("sample step %d: %w", i, err)
		}
		ch, err := g.Vocab.Rune(next)
		if err != nil {
			return "", Stats{}, fmt.Errorf("decode step %d: %w", i, err)
		}
		out.WriteRune(ch)
		if g.Stream != nil {
			g.Stream(string(ch))
		}

		if i+1 < numGenerate {
			// Only the sampled index goes back in; the state holds the rest.
			logits, err = g.query(st, []int{next})
			if err != nil {
				return "", Stats{}, err
			}
		}
	}

	dur := time.Since(start)
	stats := Stats{
		SeedChars:      seedLen,
		GeneratedChars: numGenerate,
		Duration:       dur,
	}
	if secs := dur.Seconds(); secs > 0 {
		stats.CharsPerSecond = float64(numGenerate) / secs
	}
	return seed + out.String(), stats, nil
}

// query forwards ids under st and returns the final position's logits row.
func (g *Generator) query(st model.State, ids []int) ([]float32, error) {
	rows, err := g.Model.Forward(st, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelQuery, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no logits returned", ErrModelQuery)
	}
	return rows[len(rows)-1], nil
}
