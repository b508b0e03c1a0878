// Package version carries build metadata injected with -ldflags "-X".
package version

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the line printed by `geoscout version`.
func Info() string {
	return fmt.Sprintf("geoscout %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version string (e.g., "1.2.0" or "dev").
func Short() string {
	return Version
}

// UserAgent identifies geoscout in outbound HTTP requests.
func UserAgent() string {
	return "geoscout/" + Version
}

// Map returns version info for JSON responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// Fields returns version info as log fields for the startup line.
func Fields() []zap.Field {
	return []zap.Field{
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("built", BuildDate),
	}
}
