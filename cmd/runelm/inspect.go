package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/runelm/pkg/rlm"
)

func inspectCmd() *cli.Command {
	var (
		showTensors bool
		showVocab   bool
		tensorLimit int
		vocabLimit  int
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect the contents of an .rlm checkpoint",
		ArgsUsage: "<file.rlm>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "tensors", Usage: "list the tensor index", Destination: &showTensors},
			&cli.BoolFlag{Name: "vocab", Usage: "print the vocabulary runes", Destination: &showVocab},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.IntFlag{Name: "vocab-limit", Usage: "limit vocab listing (0 = no limit)", Value: 100, Destination: &vocabLimit},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := strings.TrimSpace(c.Args().First())
			if path == "" {
				return cli.Exit("error: usage: runelm inspect <file.rlm>", 1)
			}

			stat, err := os.Stat(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat %q: %v", path, err), 1)
			}
			if stat.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".rlm") {
				return cli.Exit("error: runelm inspect only supports .rlm files", 1)
			}

			rf, err := rlm.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
			}
			defer func() { _ = rf.Close() }()

			fmt.Printf("RLM Inspect: %s\n", path)
			fmt.Printf("File: %s (%s)\n\n", filepath.Base(path), formatSize(stat.Size()))
			printHeader(rf.Header)
			printSectionDirectory(rf.Sections)

			if data := rf.SectionData(rf.Section(rlm.SectionModelInfo)); len(data) > 0 {
				info, err := rlm.ParseModelInfo(data)
				if err != nil {
					fmt.Printf("model info: unreadable: %v\n", err)
				} else {
					printModelInfo(info)
				}
			}

			if data := rf.SectionData(rf.Section(rlm.SectionVocab)); len(data) > 0 {
				runes, err := rlm.ParseVocabSection(data)
				if err != nil {
					fmt.Printf("vocab: unreadable: %v\n", err)
				} else {
					fmt.Printf("vocab: %d runes\n", len(runes))
					if showVocab {
						printVocabRunes(runes, vocabLimit)
					}
				}
			}

			if data := rf.SectionData(rf.Section(rlm.SectionTensorIndex)); len(data) > 0 {
				ti, err := rlm.ParseTensorIndex(data)
				if err != nil {
					fmt.Printf("tensor index: unreadable: %v\n", err)
					return nil
				}
				var totalBytes uint64
				for i := 0; i < ti.Count(); i++ {
					totalBytes += ti.At(i).DataSize
				}
				fmt.Printf("tensors: %d (%s of data)\n", ti.Count(), formatSize(int64(totalBytes)))
				if showTensors {
					printTensorIndex(ti, tensorLimit)
				}
			}

			return nil
		},
	}
}

func printHeader(h *rlm.Header) {
	fmt.Printf("Header:\n")
	fmt.Printf("  magic:    %q\n", string(h.Magic[:]))
	fmt.Printf("  version:  %d.%d\n", h.Major, h.Minor)
	fmt.Printf("  sections: %d\n", h.SectionCount)
	fmt.Printf("  size:     %s\n", formatSize(int64(h.FileSize)))
	fmt.Println()
}

func printSectionDirectory(sections []rlm.Section) {
	fmt.Printf("Sections:\n")
	for _, s := range sections {
		fmt.Printf("  %-14s v%-2d offset=%-8d size=%s\n",
			sectionName(s.Type), s.Version, s.Offset, formatSize(int64(s.Size)))
	}
	fmt.Println()
}

func sectionName(t uint32) string {
	switch rlm.SectionType(t) {
	case rlm.SectionModelInfo:
		return "model-info"
	case rlm.SectionVocab:
		return "vocab"
	case rlm.SectionTensorIndex:
		return "tensor-index"
	case rlm.SectionTensorData:
		return "tensor-data"
	default:
		return fmt.Sprintf("unknown(0x%04x)", t)
	}
}

func printModelInfo(info *rlm.ModelInfo) {
	fmt.Printf("Model:\n")
	fmt.Printf("  arch:       %s\n", info.Arch)
	if info.ModelName != "" {
		fmt.Printf("  name:       %s\n", info.ModelName)
	}
	fmt.Printf("  vocab:      %d\n", info.VocabSize)
	fmt.Printf("  embed:      %d\n", info.EmbedDim)
	fmt.Printf("  hidden:     %d\n", info.HiddenDim)
	fmt.Printf("  layers:     %d\n", info.Layers)
	fmt.Printf("  epoch:      %d\n", info.Epoch)
	fmt.Printf("  train loss: %.4f\n", info.TrainLoss)
	if len(info.Extras) > 0 {
		fmt.Printf("  extras:     %d entries\n", len(info.Extras))
	}
	fmt.Println()
}

func printTensorIndex(ti *rlm.TensorIndex, limit int) {
	fmt.Printf("\nTensor index:\n")
	for i := 0; i < ti.Count(); i++ {
		if limit > 0 && i >= limit {
			fmt.Printf("  ... %d more (use --tensors-limit=0 for all)\n", ti.Count()-limit)
			break
		}
		rec := ti.At(i)
		fmt.Printf("  %-28s %-4s %-14s %s\n",
			rec.Name, rec.DType, formatShape(rec.Shape), formatSize(int64(rec.DataSize)))
	}
}

func formatShape(shape []uint64) string {
	if len(shape) == 0 {
		return "scalar"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return strings.Join(parts, "x")
}

func printVocabRunes(runes []rune, limit int) {
	fmt.Printf("\nVocabulary:\n")
	for i, r := range runes {
		if limit > 0 && i >= limit {
			fmt.Printf("  ... %d more (use --vocab-limit=0 for all)\n", len(runes)-limit)
			break
		}
		fmt.Printf("  %4d  %s\n", i, strconv.QuoteRune(r))
	}
}
