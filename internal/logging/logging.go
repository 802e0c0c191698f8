// Package logging builds the structured logger shared by the pipeline.
// Logs go to stderr so that reports written to stdout stay parseable.
package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once    sync.Once
	logger  *zap.SugaredLogger
	syncFn  = func() error { return nil }
	verbose bool
)

// SetVerbose lowers the level of the shared logger to debug. It must be
// called before the first Logger call to take effect.
func SetVerbose(v bool) {
	verbose = v
}

// Logger returns a lazily initialised structured logger.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		base, err := build(verbose)
		if err != nil {
			panic(err)
		}
		logger = base.Sugar()
		syncFn = base.Sync
	})
	return logger
}

func build(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// Sync flushes any buffered log entries. Errors from syncing a terminal
// are ignored.
func Sync() error {
	if err := syncFn(); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "bad file descriptor") ||
			strings.Contains(msg, "invalid argument") ||
			strings.Contains(msg, "inappropriate ioctl") {
			return nil
		}
		return err
	}
	return nil
}
