package platform

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger and returns it. format is
// "json" (default, for batch nodes) or "console" for interactive runs.
func InitLogger(level, format string) zerolog.Logger {
	return initLogger(os.Stderr, level, format)
}

func initLogger(out io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = out
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// LogFatal logs err and exits the process.
func LogFatal(logger zerolog.Logger, msg string, err error) {
	logger.Error().Err(err).Msg(msg)
	os.Exit(1)
}
