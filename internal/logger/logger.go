package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is a no-op logger until Init is called, so packages can log from tests.
var Log = zap.NewNop()

// Level maps a config level name to a zap level; unknown names mean info.
func Level(name string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zap.InfoLevel
	}
	return lvl
}

// New builds the JSON stdout logger used by every command.
func New(level string) (*zap.Logger, error) {
	cfg := zap.Config{
		Encoding:         "json",
		Level:            zap.NewAtomicLevelAt(Level(level)),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    zap.NewProductionEncoderConfig(),
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.Fields(zap.String("service", "dlm")))
}

// Init replaces Log; it panics when the logger cannot be built.
func Init(level string) {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	Log = l
}

// Sync flushes buffered entries; errors on stdout sync are ignored.
func Sync() { _ = Log.Sync() }
