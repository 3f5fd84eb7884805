package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samcharles93/runelm/internal/ckptstore"
)

const envCheckpointsDir = "RUNELM_CHECKPOINTS_DIR"

// GeneratorProvider hands a loaded checkpoint to fn. Implementations
// serialize calls per checkpoint because generation drives the model's
// recurrent state, which is not safe to share.
type GeneratorProvider interface {
	WithModel(ctx context.Context, fn func(ckpt *ckptstore.Checkpoint, checkpointID string) error) error
}

// ProviderConfig locates the checkpoints a provider serves.
type ProviderConfig struct {
	// CheckpointPath names one .rlm file explicitly and wins when set.
	CheckpointPath string

	// CheckpointsDir is scanned for the newest ckpt-*.rlm file. When
	// empty the RUNELM_CHECKPOINTS_DIR environment variable is tried.
	CheckpointsDir string
}

// CachedGeneratorProvider loads checkpoints on demand and keeps them in
// memory keyed by path.
type CachedGeneratorProvider struct {
	cfg ProviderConfig

	mu    sync.Mutex
	cache map[string]*checkpointEntry
}

type checkpointEntry struct {
	ckpt *ckptstore.Checkpoint
	mu   sync.Mutex
}

func NewCachedGeneratorProvider(cfg ProviderConfig) *CachedGeneratorProvider {
	return &CachedGeneratorProvider{
		cfg:   cfg,
		cache: make(map[string]*checkpointEntry),
	}
}

// WithModel resolves the current checkpoint, loads it if needed, and
// runs fn while holding that checkpoint's lock.
func (p *CachedGeneratorProvider) WithModel(ctx context.Context, fn func(ckpt *ckptstore.Checkpoint, checkpointID string) error) error {
	path, err := p.resolvePath()
	if err != nil {
		return err
	}
	entry, err := p.getOrLoad(path)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(entry.ckpt, checkpointID(path))
}

// ListCheckpoints enumerates the checkpoints visible to this provider,
// oldest first.
func (p *CachedGeneratorProvider) ListCheckpoints() ([]ckptstore.Entry, error) {
	dir := p.checkpointsDir()
	if dir == "" && p.cfg.CheckpointPath != "" {
		dir = filepath.Dir(p.cfg.CheckpointPath)
	}
	if dir == "" {
		return nil, errors.New("api: no checkpoint path or directory configured")
	}
	return ckptstore.New(dir).List()
}

func (p *CachedGeneratorProvider) getOrLoad(path string) (*checkpointEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	// Load outside the cache lock; checkpoints can be large.
	ckpt, err := ckptstore.Load(path)
	if err != nil {
		return nil, err
	}
	loaded := &checkpointEntry{ckpt: ckpt}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		return existing, nil
	}
	p.cache[path] = loaded
	return loaded, nil
}

// resolvePath picks the checkpoint to serve. The directory is re-scanned
// on every call so a concurrently running trainer's newest checkpoint
// takes over as soon as it lands.
func (p *CachedGeneratorProvider) resolvePath() (string, error) {
	if p.cfg.CheckpointPath != "" {
		return filepath.Clean(p.cfg.CheckpointPath), nil
	}
	dir := p.checkpointsDir()
	if dir == "" {
		return "", errors.New("api: no checkpoint path or directory configured")
	}
	entry, err := ckptstore.New(dir).Latest()
	if err != nil {
		return "", err
	}
	return entry.Path, nil
}

func (p *CachedGeneratorProvider) checkpointsDir() string {
	if dir := strings.TrimSpace(p.cfg.CheckpointsDir); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envCheckpointsDir))
}

// checkpointID is the wire name of a checkpoint file: the base name
// without its extension.
func checkpointID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
