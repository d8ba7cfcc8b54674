// Package server holds the process level plumbing shared by the attestation binaries.
package server

import (
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// DefaultLogger creates a new logger with the given app name and the vcs commit when known.
func DefaultLogger(appName string) *zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", appName).Logger()
	if commit := buildCommit(); commit != "" {
		logger = logger.With().Str("commit", commit).Logger()
	}
	return &logger
}

func buildCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) == 40 {
			return s.Value[:7]
		}
	}
	return ""
}

// SetLevel sets the global log level. An empty level leaves it unchanged.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
