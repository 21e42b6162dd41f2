package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is usable before Init so packages can log from tests.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init configures the global logger for env ("development" pretty-prints).
func Init(env string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "development" {
		Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		Log = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		Log = Log.Level(lvl)
	}
}

func Info() *zerolog.Event {
	return Log.Info()
}

func Error() *zerolog.Event {
	return Log.Error()
}

func Warn() *zerolog.Event {
	return Log.Warn()
}

func Debug() *zerolog.Event {
	return Log.Debug()
}

func Fatal() *zerolog.Event {
	return Log.Fatal()
}
