package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/streamwatch/crawler/internal/config"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(config.LoggingConfig{Development: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := logger.Name(); got != "streamwatch" {
		t.Fatalf("expected root logger name streamwatch, got %q", got)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected development logger to emit debug lines")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Debug("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(config.LoggingConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected production logger to suppress debug lines")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected production logger to emit info lines")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestNewHonorsLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(config.LoggingConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info lines to be suppressed at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn lines to be emitted")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(config.LoggingConfig{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}
