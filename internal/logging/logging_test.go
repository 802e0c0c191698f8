package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerSingleton(t *testing.T) {
	first := Logger()
	second := Logger()

	if first != second {
		t.Fatalf("expected singleton logger instance")
	}

	if err := Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func TestBuildLevel(t *testing.T) {
	debug, err := build(true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !debug.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}
	quiet, err := build(false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if quiet.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be disabled by default")
	}
}
