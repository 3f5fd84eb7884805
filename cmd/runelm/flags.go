package main

import "github.com/urfave/cli/v3"

var (
	checkpointPath string
	checkpointsDir string
	logLevel       string
	logFormat      string
	debug          bool
)

func commonCheckpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"c"},
			Usage:       "path to .rlm checkpoint file",
			Destination: &checkpointPath,
		},
		&cli.StringFlag{
			Name:        "checkpoints-dir",
			Aliases:     []string{"dir"},
			Usage:       "directory containing .rlm checkpoints",
			Destination: &checkpointsDir,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
