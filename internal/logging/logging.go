// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/hanpama/legend/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stderr and, when c.File is set, to a
// rotated file.
func New(c config.Logging) (*zap.Logger, error) {
	return build(c, zapcore.Lock(os.Stderr))
}

func build(c config.Logging, console zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	enc, err := encoder(c.Format)
	if err != nil {
		return nil, err
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, console, level)}
	if c.File != "" {
		// Files are always JSON.
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotate(c)), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func rotate(c config.Logging) io.Writer {
	return &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB, // megabytes
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays, // days
		Compress:   c.Compress,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

func encoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", "json":
		return zapcore.NewJSONEncoder(encoderConfig()), nil
	case "console":
		ec := encoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}
}
