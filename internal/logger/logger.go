package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. Handlers and services log
// through this instance rather than constructing their own.
var Logger zerolog.Logger

func init() {
	level := zerolog.InfoLevel
	if raw := os.Getenv("AGENT_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}

	var out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if os.Getenv("AGENT_LOG_JSON") == "true" {
		Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
		return
	}

	Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}
