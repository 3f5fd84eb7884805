package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/runelm/internal/ckptstore"
	"github.com/samcharles93/runelm/internal/logger"
)

func checkpointsCmd() *cli.Command {
	return &cli.Command{
		Name:    "checkpoints",
		Aliases: []string{"ls"},
		Usage:   "List available checkpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Aliases:     []string{"checkpoints-dir"},
				Usage:       "directory containing .rlm checkpoints",
				Destination: &checkpointsDir,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if cfg := LoadConfig(); cfg.CheckpointsDir != "" && !cmd.IsSet("dir") {
				checkpointsDir = cfg.CheckpointsDir
			}
			dir := resolveCheckpointsDir(checkpointsDir)

			entries, err := ckptstore.New(dir).List()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(entries) == 0 {
				log.Info("no checkpoints found", "dir", dir)
				return nil
			}

			fmt.Printf("Checkpoints in %s:\n\n", dir)
			for _, entry := range entries {
				name := filepath.Base(entry.Path)
				info, err := os.Stat(entry.Path)
				if err != nil {
					fmt.Printf("  %s\n", name)
					continue
				}
				fmt.Printf("  %-24s %8s  epoch %-4d %s\n",
					name,
					formatSize(info.Size()),
					entry.Epoch,
					info.ModTime().Format(time.DateTime),
				)
			}
			fmt.Printf("\n%d checkpoint(s) found\n", len(entries))
			return nil
		},
	}
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
