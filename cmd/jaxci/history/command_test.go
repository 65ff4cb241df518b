package history

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"github.com/rocm/jaxci/pkg/runstore"
)

func TestRenderRuns(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	code := 1
	var buf bytes.Buffer
	renderRuns(&buf, []runstore.Run{
		{
			ID:          "run-finished",
			Kind:        runstore.KindSingle,
			Started:     now.Add(-2 * time.Hour),
			Finished:    now.Add(-time.Hour),
			ExitCode:    &code,
			Host:        "gpu-node-1",
			Parallelism: 8,
		},
		{
			ID:          "run-running",
			Kind:        runstore.KindMulti,
			Started:     now.Add(-time.Minute),
			Parallelism: 1,
		},
	}, now)

	out := buf.String()
	assert.Contains(t, out, "run-finished")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "1h0m0s")
	assert.Contains(t, out, "gpu-node-1")
	assert.Contains(t, out, "running")
}

func TestRenderAttempts(t *testing.T) {
	var buf bytes.Buffer
	renderAttempts(&buf, []runstore.Attempt{
		{Module: "linalg_test", Attempt: 0, GPUs: "3", ExitCode: 134, CrashedNodeID: "tests/linalg_test.py::LinalgTest::testQr", Duration: 1500 * time.Millisecond},
		{Module: "linalg_test", Attempt: 1, GPUs: "3", ExitCode: 0, Duration: time.Second},
	})

	out := buf.String()
	assert.Contains(t, out, "tests/linalg_test.py::LinalgTest::testQr")
	assert.Contains(t, out, "134")
	assert.Contains(t, out, "1.5s")
}

func TestCommandReadsLedger(t *testing.T) {
	ctx := context.Background()
	stateFile := filepath.Join(t.TempDir(), "jaxci.state")

	store, err := runstore.Open(ctx, stateFile)
	require.NoError(t, err)
	id, err := store.StartRun(ctx, runstore.KindSingle, 2)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(ctx, id, 0))
	require.NoError(t, store.Close())

	var opened string
	orig := openStore
	openStore = func(ctx context.Context, file string) (*runstore.Store, error) {
		opened = file
		return runstore.Open(ctx, file)
	}
	defer func() { openStore = orig }()

	set := flag.NewFlagSet("history", flag.ContinueOnError)
	set.String("state-file", "", "")
	set.String("log-dir", "", "")
	set.String("output-format", "", "")
	set.Int("limit", 10, "")
	require.NoError(t, set.Parse([]string{"--state-file", stateFile, "--log-dir", t.TempDir(), "--output-format", "json"}))

	require.NoError(t, Command(cli.NewContext(cli.NewApp(), set, nil)))
	assert.Equal(t, stateFile, opened)
}

func TestCommandLedgerDisabled(t *testing.T) {
	set := flag.NewFlagSet("history", flag.ContinueOnError)
	set.String("state-file", "", "")
	set.String("log-dir", "", "")
	require.NoError(t, set.Parse([]string{"--state-file", "none", "--log-dir", t.TempDir()}))

	err := Command(cli.NewContext(cli.NewApp(), set, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
