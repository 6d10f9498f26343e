package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger. Production emits JSON to stdout;
// development gets the console writer and debug level. Both cmd/api and
// cmd/worker tag their lines with a component field on top of this.
func NewLogger(appEnv string) zerolog.Logger {
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger.With().Str("service", "genhooks").Logger()
}
