// Package logger builds the zap loggers used by the fct commands.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects log verbosity and an optional JSON log file.
type Options struct {
	Level zapcore.Level
	// File receives every entry as JSON in addition to the console.
	File string
	// Console defaults to os.Stderr; stdout is kept for command output.
	Console io.Writer
	// Color enables colored level names on the console.
	Color bool
}

// New returns a logger writing human-readable entries to the console and,
// when File is set, JSON entries to that file. The returned close function
// flushes and closes the file; call it once the logger is no longer used.
func New(opts Options) (*zap.Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(opts.Color), zapcore.AddSync(console), opts.Level),
	}

	closeFn := func() error { return nil }
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open logfile: %w", err)
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(f), opts.Level))
		closeFn = func() error {
			return multierr.Append(f.Sync(), f.Close())
		}
	}

	return zap.New(zapcore.NewTee(cores...)), closeFn, nil
}

// ParseLevel maps a flag value such as "debug" onto a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

func consoleEncoder(color bool) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
