package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/corpus"
	"github.com/samcharles93/runelm/internal/logger"
	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/train"
	"github.com/samcharles93/runelm/internal/vocab"
)

func trainCmd() *cli.Command {
	var (
		corpusPath  string
		epochs      int64
		steps       int64
		batch       int64
		seqLen      int64
		maxLR       float64
		minLR       float64
		embed       int64
		hidden      int64
		layers      int64
		seed        int64
		resume      bool
		sampleText  string
		sampleEvery int64
	)
	defaults := train.DefaultConfig()

	return &cli.Command{
		Name:  "train",
		Usage: "Train a model on a plain-text corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "corpus",
				Usage:       "path to a UTF-8 text file to train on",
				Destination: &corpusPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "checkpoints",
				Aliases:     []string{"dir", "checkpoints-dir"},
				Usage:       "directory to write .rlm checkpoints to (default ./checkpoints)",
				Destination: &checkpointsDir,
			},
			&cli.Int64Flag{
				Name:        "epochs",
				Usage:       "number of epochs to train",
				Value:       int64(defaults.Epochs),
				Destination: &epochs,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Usage:       "optimizer steps per epoch",
				Value:       int64(defaults.StepsPerEpoch),
				Destination: &steps,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Aliases:     []string{"b"},
				Usage:       "windows per batch",
				Value:       int64(defaults.BatchSize),
				Destination: &batch,
			},
			&cli.Int64Flag{
				Name:        "seq-len",
				Aliases:     []string{"seq_len"},
				Usage:       "characters per training window",
				Value:       int64(defaults.SeqLen),
				Destination: &seqLen,
			},
			&cli.Float64Flag{
				Name:        "lr",
				Usage:       "peak learning rate",
				Value:       defaults.MaxLR,
				Destination: &maxLR,
			},
			&cli.Float64Flag{
				Name:        "min-lr",
				Aliases:     []string{"min_lr"},
				Usage:       "final learning rate of the cosine schedule",
				Value:       defaults.MinLR,
				Destination: &minLR,
			},
			&cli.Int64Flag{
				Name:        "embed",
				Usage:       "embedding dimension",
				Value:       64,
				Destination: &embed,
			},
			&cli.Int64Flag{
				Name:        "hidden",
				Usage:       "hidden dimension per layer",
				Value:       128,
				Destination: &hidden,
			},
			&cli.Int64Flag{
				Name:        "layers",
				Usage:       "number of recurrent layers",
				Value:       1,
				Destination: &layers,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "RNG seed for init and batching",
				Value:       defaults.Seed,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "resume",
				Usage:       "continue training from the newest checkpoint",
				Destination: &resume,
			},
			&cli.StringFlag{
				Name:        "sample-text",
				Aliases:     []string{"sample_text"},
				Usage:       "seed text for progress previews",
				Destination: &sampleText,
			},
			&cli.Int64Flag{
				Name:        "sample-every",
				Aliases:     []string{"sample_every"},
				Usage:       "steps between progress previews (0 = disabled)",
				Value:       int64(defaults.SampleEvery),
				Destination: &sampleEvery,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyTrainConfig(c, LoadConfig(), &epochs, &steps, &batch, &seqLen, &maxLR, &minLR, &embed, &hidden, &layers)

			// Checkpoints land per epoch, so ^C between steps loses at
			// most the current epoch.
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			text, err := corpus.Load(corpusPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			cfg := defaults
			cfg.Epochs = int(epochs)
			cfg.StepsPerEpoch = int(steps)
			cfg.BatchSize = int(batch)
			cfg.SeqLen = int(seqLen)
			cfg.MaxLR = maxLR
			cfg.MinLR = minLR
			cfg.Seed = seed
			cfg.SampleEvery = int(sampleEvery)
			if sampleText != "" {
				cfg.SampleText = sampleText
			}

			store := ckptstore.New(resolveCheckpointsDir(checkpointsDir))

			var (
				m   *model.GRU
				voc *vocab.Vocab
			)
			if resume {
				ckpt, entry, err := store.LoadLatest()
				if err != nil {
					if errors.Is(err, ckptstore.ErrNoCheckpoints) {
						return cli.Exit(fmt.Sprintf("error: --resume set but no checkpoints in %s", store.Dir()), 1)
					}
					return cli.Exit(fmt.Sprintf("error: load checkpoint: %v", err), 1)
				}
				m, voc = ckpt.Model, ckpt.Vocab
				cfg.StartEpoch = entry.Epoch
				log.Info("resuming", "checkpoint", entry.Path, "epoch", entry.Epoch)
			} else {
				voc, err = vocab.Build(text)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: build vocabulary: %v", err), 1)
				}
				m, err = model.New(model.Config{
					VocabSize: voc.Size(),
					EmbedDim:  int(embed),
					HiddenDim: int(hidden),
					Layers:    int(layers),
				}, rand.New(rand.NewSource(seed)))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: init model: %v", err), 1)
				}
			}

			trainText, evalText := corpus.Split(text, cfg.EvalFrac)
			trainIDs, err := voc.Encode(trainText)
			if err != nil {
				if resume {
					return cli.Exit(fmt.Sprintf("error: %v (the corpus has characters the checkpoint's vocabulary lacks; train from scratch)", err), 1)
				}
				return cli.Exit(fmt.Sprintf("error: encode corpus: %v", err), 1)
			}
			var evalIDs []int
			if evalText != "" {
				evalIDs, err = voc.Encode(evalText)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode eval split: %v", err), 1)
				}
			}

			log.Info("corpus ready",
				"path", corpusPath,
				"train_chars", len(trainIDs),
				"eval_chars", len(evalIDs),
				"vocab", voc.Size(),
			)
			log.Info("model ready", "params", m.NumParams(), "embed", m.Config().EmbedDim, "hidden", m.Config().HiddenDim, "layers", m.Config().Layers)

			tr, err := train.New(m, voc, trainIDs, evalIDs, cfg, log, store)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			res, err := tr.Run(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					log.Warn("training interrupted",
						"steps", res.Steps,
						"epochs", res.Epochs,
						"loss", res.FinalLoss,
					)
					return nil
				}
				return cli.Exit(fmt.Sprintf("error: training: %v", err), 1)
			}

			fmt.Printf("Trained %d steps over %d epoch(s) in %s (loss %.4f)\n",
				res.Steps, res.Epochs, res.Duration.Round(time.Second), res.FinalLoss)
			return nil
		},
	}
}
