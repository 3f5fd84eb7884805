package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the runelm configuration file
// (~/.config/runelm/config.yaml). Scalar defaults use pointer fields so
// "not set" is distinguishable from a zero value.
type Config struct {
	CheckpointsDir string `yaml:"checkpoints_dir"`

	// Generation defaults
	Length      *int64 `yaml:"length"`
	SamplerSeed *int64 `yaml:"sampler_seed"`

	// Training defaults
	Epochs        *int64   `yaml:"epochs"`
	StepsPerEpoch *int64   `yaml:"steps_per_epoch"`
	BatchSize     *int64   `yaml:"batch_size"`
	SeqLen        *int64   `yaml:"seq_len"`
	MaxLR         *float64 `yaml:"max_lr"`
	MinLR         *float64 `yaml:"min_lr"`
	EmbedDim      *int64   `yaml:"embed_dim"`
	HiddenDim     *int64   `yaml:"hidden_dim"`
	Layers        *int64   `yaml:"layers"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "runelm", "config.yaml")
}

// applyTrainConfig applies config file defaults to train command
// variables when the corresponding CLI flag was not explicitly set.
func applyTrainConfig(c *cli.Command, cfg Config,
	epochs, steps, batch, seqLen *int64, maxLR, minLR *float64,
	embed, hidden, layers *int64,
) {
	if cfg.CheckpointsDir != "" && !c.IsSet("checkpoints") {
		checkpointsDir = cfg.CheckpointsDir
	}
	if cfg.Epochs != nil && !c.IsSet("epochs") {
		*epochs = *cfg.Epochs
	}
	if cfg.StepsPerEpoch != nil && !c.IsSet("steps") {
		*steps = *cfg.StepsPerEpoch
	}
	if cfg.BatchSize != nil && !c.IsSet("batch") {
		*batch = *cfg.BatchSize
	}
	if cfg.SeqLen != nil && !c.IsSet("seq-len") && !c.IsSet("seq_len") {
		*seqLen = *cfg.SeqLen
	}
	if cfg.MaxLR != nil && !c.IsSet("lr") {
		*maxLR = *cfg.MaxLR
	}
	if cfg.MinLR != nil && !c.IsSet("min-lr") && !c.IsSet("min_lr") {
		*minLR = *cfg.MinLR
	}
	if cfg.EmbedDim != nil && !c.IsSet("embed") {
		*embed = *cfg.EmbedDim
	}
	if cfg.HiddenDim != nil && !c.IsSet("hidden") {
		*hidden = *cfg.HiddenDim
	}
	if cfg.Layers != nil && !c.IsSet("layers") {
		*layers = *cfg.Layers
	}
}

// applyRunConfig applies config file defaults to run command variables.
func applyRunConfig(c *cli.Command, cfg Config, length, samplerSeed *int64) {
	if cfg.CheckpointsDir != "" && !c.IsSet("checkpoints-dir") && !c.IsSet("dir") {
		checkpointsDir = cfg.CheckpointsDir
	}
	if cfg.Length != nil && !c.IsSet("length") {
		*length = *cfg.Length
	}
	if cfg.SamplerSeed != nil && !c.IsSet("sampler-seed") && !c.IsSet("sampler_seed") {
		*samplerSeed = *cfg.SamplerSeed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.CheckpointsDir != "" && !c.IsSet("checkpoints-dir") && !c.IsSet("dir") {
		checkpointsDir = cfg.CheckpointsDir
	}
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
