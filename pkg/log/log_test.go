package log

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zap.AtomicLevel
		wantErr bool
	}{
		{in: "", want: zap.NewAtomicLevel()},
		{in: "info", want: zap.NewAtomicLevel()},
		{in: "debug", want: zap.NewAtomicLevelAt(zap.DebugLevel)},
		{in: "warn", want: zap.NewAtomicLevelAt(zap.WarnLevel)},
		{in: "bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Level(), got.Level())
		})
	}
}

func TestCreateLoggerWithFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "jaxci.log")

	l := CreateLogger(zap.NewAtomicLevelAt(zap.InfoLevel), logFile)
	l.Infow("hello", "module", "tests/api_test.py")
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "tests/api_test.py")
}

func TestSetLoggerNil(t *testing.T) {
	orig := Logger.get()
	defer Logger.set(orig)

	SetLogger(nil)
	// nop logger must not panic
	Logger.Infow("dropped")
	Logger.Errorw("dropped", "error", fmt.Errorf("wrapped: %w", context.Canceled))
}

func TestSetup(t *testing.T) {
	orig := Logger.get()
	defer Logger.set(orig)

	require.NoError(t, Setup("debug", ""))
	require.Error(t, Setup("nope", ""))
}

func TestErrorwDowngradesCanceled(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := newJaxciLogger(zap.New(core).Sugar())

	l.Errorw("module interrupted", "error", fmt.Errorf("run pytest: %w", context.Canceled))
	l.Errorw("module failed", "error", fmt.Errorf("exit code 1"))
	l.Errorw("odd key/values", "error")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}
