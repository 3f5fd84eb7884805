package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const envCheckpointsDir = "RUNELM_CHECKPOINTS_DIR"

const defaultCheckpointsDir = "checkpoints"

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveCheckpointsDir picks the checkpoint directory: flag, then the
// RUNELM_CHECKPOINTS_DIR environment variable, then ./checkpoints.
func resolveCheckpointsDir(dirFlag string) string {
	dir := strings.TrimSpace(dirFlag)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(envCheckpointsDir))
	}
	if dir == "" {
		dir = defaultCheckpointsDir
	}
	return dir
}

func resolveCheckpointPath(ckptFlag, dirFlag string, stdin io.Reader, stderr io.Writer) (string, error) {
	ckptFlag = strings.TrimSpace(ckptFlag)
	if ckptFlag != "" {
		return filepath.Clean(ckptFlag), nil
	}

	dir := resolveCheckpointsDir(dirFlag)
	ckpts, err := discoverCheckpoints(dir)
	if err != nil {
		return "", err
	}
	switch len(ckpts) {
	case 0:
		return "", fmt.Errorf("no .rlm checkpoints found in %s", dir)
	case 1:
		_, _ = fmt.Fprintf(stderr, "run: using checkpoint %s\n", ckpts[0])
		return ckpts[0], nil
	default:
		if !stdinIsTTY() {
			return "", fmt.Errorf(
				"multiple checkpoints found in %s but stdin is not interactive; set --checkpoint",
				dir,
			)
		}
		return selectCheckpointInteractively(dir, ckpts, stdin, stderr)
	}
}

func discoverCheckpoints(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoints directory is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("checkpoints path is not a directory: %s", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ckpts := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".rlm") {
			continue
		}
		ckpts = append(ckpts, filepath.Join(dir, name))
	}
	// Zero-padded epoch numbers make name order epoch order.
	sort.Strings(ckpts)
	return ckpts, nil
}

func selectCheckpointInteractively(dir string, ckpts []string, stdin io.Reader, stderr io.Writer) (string, error) {
	if len(ckpts) == 0 {
		return "", fmt.Errorf("no checkpoints available in %s", dir)
	}

	newest := len(ckpts)
	_, _ = fmt.Fprintf(stderr, "run: select a checkpoint from %s\n", dir)
	for i, c := range ckpts {
		marker := ""
		if i == newest-1 {
			marker = " (latest)"
		}
		_, _ = fmt.Fprintf(stderr, "%d. %s%s\n", i+1, checkpointDisplayName(dir, c), marker)
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "run: enter selection [1-%d, default %d]: ", len(ckpts), newest)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no selection provided on stdin; set --checkpoint")
			}
			// A bare return takes the newest checkpoint.
			return ckpts[newest-1], nil
		}

		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(ckpts) {
			_, _ = fmt.Fprintf(stderr, "run: invalid selection %q\n", line)
			if errors.Is(err, io.EOF) {
				return "", errors.New("invalid selection provided on stdin; set --checkpoint")
			}
			continue
		}
		return ckpts[idx-1], nil
	}
}

func checkpointDisplayName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return filepath.Base(path)
	}
	return rel
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
