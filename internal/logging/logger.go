package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

const logFilePerm = 0o600

// NewLogger creates a structured logger appropriate for the environment.
// Records go to stderr so command output on stdout stays clean.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return slog.New(consoleHandler(os.Stderr, env))
}

// NewLoggerWithFile behaves like NewLogger and additionally fans every
// record out to a JSON file at path. The returned cleanup closes the file.
// If the file cannot be opened the console logger is returned on its own.
func NewLoggerWithFile(env, path string) (*slog.Logger, func() error) {
	console := consoleHandler(os.Stderr, env)

	if path == "" {
		return slog.New(console), func() error { return nil }
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
	if err != nil {
		logger := slog.New(console)
		logger.Warn("opening log file, using console only",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return logger, func() error { return nil }
	}

	return NewFanoutLogger(env, os.Stderr, file), file.Close
}

// NewFanoutLogger writes console output to console and JSON records to sink.
func NewFanoutLogger(env string, console, sink io.Writer) *slog.Logger {
	fileHandler := slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level(env)})

	return slog.New(slogmulti.Fanout(consoleHandler(console, env), fileHandler))
}

func consoleHandler(w io.Writer, env string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level(env)}

	if env == "production" {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

func level(env string) slog.Level {
	if env == "production" {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}
