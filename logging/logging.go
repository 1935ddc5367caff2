// Package logging wraps log/slog with a level-by-string convention.
// Only the cmd layer (main.go) logs through it; the component packages
// themselves do not log.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

var global = slog.Default()

// Init installs a text-handler logger at the given level ("debug",
// "info", "warn", "error") as both the package-level and slog default
// logger.
func Init(level string) error {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	global = slog.New(handler)
	slog.SetDefault(global)
	return nil
}

// Get returns the package-level logger, falling back to slog.Default
// if Init was never called.
func Get() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}

// Component returns a logger scoped to a component name, e.g.
// logging.Component("scorefollow").
func Component(name string) *slog.Logger {
	return Get().With("component", name)
}
