package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gmat/gcs-telemetry/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init configures the global zerolog logger. When lcfg.File is set, entries
// are also written as JSON to a size-rotated file; the returned Closer
// releases it.
func Init(lcfg config.LoggingConfig) io.Closer {
	zerolog.SetGlobalLevel(ParseLevel(lcfg.Level))
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer = os.Stderr
	if strings.ToLower(lcfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if lcfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   lcfg.File,
			MaxSize:    lcfg.MaxSizeMB,
			MaxBackups: lcfg.MaxBackups,
			MaxAge:     lcfg.MaxAgeDays,
			Compress:   lcfg.Compress,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer
}

// ParseLevel maps a config level name to zerolog; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}
