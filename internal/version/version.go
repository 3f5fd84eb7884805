// Package version exposes build metadata injected at link time.
package version

import (
	"runtime"
	"time"
)

// Set via -ldflags at release build time, e.g.
//
//	-X github.com/samcharles93/runelm/internal/version.Version=v0.3.0
var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

type Info struct {
	Version   string
	Commit    string
	BuildTime string
	GoVersion string
}

// Resolve returns the build info with a usable Version even for plain
// `go build` binaries that carry no ldflags.
func Resolve() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Version != "" {
		return info
	}
	if info.BuildTime != "" {
		info.Version = info.BuildTime
		return info
	}
	info.Version = "dev-" + time.Now().UTC().Format("20060102")
	return info
}

// String renders a short one-line form for logs and User-Agent strings.
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + shortCommit(info.Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
