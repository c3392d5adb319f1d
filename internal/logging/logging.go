// Package logging provides the engine's internal diagnostic logger. It never
// writes to stdout: the CLI's JSON/--text result envelope owns stdout, this
// package writes leveled lines to stderr only, via zerolog, exactly as
// d4rk8l1tz-cli layers its own operational logging underneath a JSON result.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the package-level zerolog logger. levelName is one of
// "debug", "info", "warn", "error"; an unrecognized or empty value defaults
// to "info". Call once at process start (cmd/empirica's root command).
func Init(levelName string) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// Logger exposes the configured logger for components that want a named
// sub-logger (e.g. logging.Logger().With().Str("component", "checkpoint").Logger()).
func Logger() zerolog.Logger {
	return log.Logger
}
