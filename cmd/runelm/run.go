package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/generate"
	"github.com/samcharles93/runelm/internal/logger"
	"github.com/samcharles93/runelm/internal/sampling"
)

func runCmd() *cli.Command {
	var (
		seedText    string
		length      int64
		samplerSeed int64
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text from a trained checkpoint",
		Flags: append(commonCheckpointFlags(),
			&cli.StringFlag{
				Name:        "seed-text",
				Aliases:     []string{"seed_text", "s"},
				Usage:       "seed text to prime the model with",
				Destination: &seedText,
			},
			&cli.Int64Flag{
				Name:        "length",
				Aliases:     []string{"n"},
				Usage:       "number of characters to generate",
				Value:       500,
				Destination: &length,
			},
			&cli.Int64Flag{
				Name:        "sampler-seed",
				Aliases:     []string{"sampler_seed"},
				Usage:       "sampler RNG seed (default -1 = random)",
				Value:       -1,
				Destination: &samplerSeed,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(c, LoadConfig(), &length, &samplerSeed)

			if seedText == "" {
				return cli.Exit("error: --seed-text is required", 1)
			}

			path, err := resolveCheckpointPath(checkpointPath, checkpointsDir, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve checkpoint: %v", err), 1)
			}

			loadStart := time.Now()
			ckpt, err := ckptstore.Load(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load checkpoint: %v", err), 1)
			}
			log.Debug("checkpoint loaded",
				"path", path,
				"params", ckpt.Model.NumParams(),
				"took", time.Since(loadStart).Round(time.Millisecond),
			)

			if samplerSeed == -1 {
				samplerSeed = time.Now().UnixNano()
			}

			gen := &generate.Generator{
				Model:   ckpt.Model,
				Vocab:   ckpt.Vocab,
				Sampler: sampling.NewSeeded(samplerSeed),
				Stream:  func(ch string) { fmt.Print(ch) },
			}

			fmt.Print(seedText)
			_, stats, err := gen.RunWithContext(ctx, seedText, int(length))
			if err != nil {
				fmt.Println()
				return cli.Exit(fmt.Sprintf("error: generation: %v", err), 1)
			}
			fmt.Println()
			_, _ = fmt.Fprintf(os.Stderr, "Stats: %.2f chars/s (%d chars in %s)\n",
				stats.CharsPerSecond, stats.GeneratedChars, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
