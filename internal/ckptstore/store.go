package ckptstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/samcharles93/runelm/internal/model"
	"github.com/samcharles93/runelm/internal/vocab"
)

var ErrNoCheckpoints = errors.New("ckptstore: no checkpoints found")

const fileExt = ".rlm"

// Store manages a directory of epoch-keyed checkpoint files named
// ckpt-000042.rlm. Files that do not match the pattern are ignored, so the
// directory can hold other artifacts.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns where the checkpoint for the given epoch lives.
func (s *Store) Path(epoch int) string {
	return filepath.Join(s.dir, fmt.Sprintf("ckpt-%06d%s", epoch, fileExt))
}

// Save writes a checkpoint for the given epoch, creating the directory if
// needed, and returns the path written.
func (s *Store) Save(epoch int, m *model.GRU, voc *vocab.Vocab, meta Meta) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	meta.Epoch = epoch
	path := s.Path(epoch)
	if err := Save(path, m, voc, meta); err != nil {
		return "", err
	}
	return path, nil
}

// Entry identifies one checkpoint file in the store.
type Entry struct {
	Path  string
	Epoch int
}

// List returns all checkpoints sorted by epoch ascending. A missing
// directory is an empty store, not an error.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		epoch, ok := parseEpoch(de.Name())
		if !ok {
			continue
		}
		out = append(out, Entry{
			Path:  filepath.Join(s.dir, de.Name()),
			Epoch: epoch,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out, nil
}

// Latest returns the checkpoint with the highest epoch.
func (s *Store) Latest() (Entry, error) {
	entries, err := s.List()
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNoCheckpoints
	}
	return entries[len(entries)-1], nil
}

// LoadLatest resolves and loads the newest checkpoint in the store.
func (s *Store) LoadLatest() (*Checkpoint, Entry, error) {
	ent, err := s.Latest()
	if err != nil {
		return nil, Entry{}, err
	}
	ck, err := Load(ent.Path)
	if err != nil {
		return nil, Entry{}, fmt.Errorf("load %s: %w", ent.Path, err)
	}
	return ck, ent, nil
}

func parseEpoch(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "ckpt-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, fileExt)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
