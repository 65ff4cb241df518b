package common

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"github.com/rocm/jaxci/pkg/config"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: OutputFormatPlain},
		{raw: " JSON ", want: OutputFormatJSON},
		{raw: "plain", want: OutputFormatPlain},
		{raw: "yaml", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWrapOutputError(t *testing.T) {
	assert.Nil(t, WrapOutputError(OutputFormatJSON, "x", nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, WrapOutputError(OutputFormatPlain, "x", plain))

	wrapped := WrapOutputError(OutputFormatJSON, "summary_failed", plain)
	var jerr *JSONCommandError
	require.ErrorAs(t, wrapped, &jerr)
	assert.Equal(t, 1, jerr.ExitStatus())
	assert.Equal(t, "summary_failed", jerr.Response().Error.Code)
	assert.Equal(t, "boom", jerr.Response().Error.Message)

	exit := ExitCode(3)
	assert.Equal(t, exit, WrapOutputError(OutputFormatJSON, "x", exit))
}

func TestExitCode(t *testing.T) {
	assert.NoError(t, ExitCode(0))

	var exitErr *ExitError
	require.ErrorAs(t, ExitCode(130), &exitErr)
	assert.Equal(t, 130, exitErr.ExitStatus())
	assert.Equal(t, 1, (&ExitError{}).ExitStatus())
}

func TestWriteJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONToWriter(&buf, map[string]string{"a": "<b>"}))
	assert.Equal(t, "{\n  \"a\": \"<b>\"\n}\n", buf.String())
	assert.Error(t, WriteJSONToWriter(nil, 1))
}

func newCLIContext(t *testing.T, args []string) *cli.Context {
	t.Helper()

	flags := flag.NewFlagSet("jaxci-common-test", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	_ = flags.String("config", "", "")
	_ = flags.String("log-dir", "", "")
	_ = flags.String("jax-dir", "", "")
	_ = flags.String("state-file", "", "")
	_ = flags.Int("max-crash-retries", 0, "")
	_ = flags.Int("max-gpus", 0, "")

	require.NoError(t, flags.Parse(args))
	return cli.NewContext(cli.NewApp(), flags, nil)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(newCLIContext(t, nil))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultLogDir, cfg.LogDir)
	assert.Equal(t, config.DefaultMaxCrashRetries, cfg.MaxCrashRetries)
}

func TestLoadConfigFlags(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(newCLIContext(t, []string{
		"--log-dir", dir,
		"--max-crash-retries", "0",
		"--max-gpus", "2",
		"--state-file", config.Disabled,
	}))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.LogDir)
	assert.Equal(t, 0, cfg.MaxCrashRetries)
	assert.Equal(t, 2, cfg.MaxGPUsPerTest)
	assert.False(t, cfg.StateEnabled())
	assert.Equal(t, filepath.Join(dir, "jaxci.prom"), cfg.MetricsFile)
	assert.Nil(t, OpenLedger(t.Context(), cfg))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(newCLIContext(t, []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Error(t, err)
}
