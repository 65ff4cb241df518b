package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_JSONCommandErrorWritesJSONOnly(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := run(
		[]string{"jaxci", "summary", "--output-format", "yaml"},
		&stdout,
		&stderr,
	)

	require.Equal(t, 1, exitCode)
	assert.Empty(t, stderr.String())

	var payload map[string]map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	require.Contains(t, payload, "error")
	assert.Equal(t, "invalid_output_format", payload["error"]["code"])
	assert.Contains(t, payload["error"]["message"], "yaml")
}

func TestRun_SummaryJSONWrapsFailures(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := run(
		[]string{"jaxci", "summary", "-o", "json", "--log-level", "invalid-level"},
		&stdout,
		&stderr,
	)

	require.Equal(t, 1, exitCode)
	var payload map[string]map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &payload))
	assert.Equal(t, "summary_failed", payload["error"]["code"])
}

func TestRun_NonJSONErrorWritesStderr(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := run(
		[]string{"jaxci", "handle-abort", "--stem", "api_test"},
		&stdout,
		&stderr,
	)

	require.Equal(t, 1, exitCode)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "required")
}

func TestRun_HandleAbortWithoutSentinel(t *testing.T) {
	dir := t.TempDir()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	exitCode := run(
		[]string{
			"jaxci", "handle-abort",
			"--json", filepath.Join(dir, "api_test_log.json"),
			"--html", filepath.Join(dir, "api_test_log.html"),
			"--sentinel", filepath.Join(dir, "api_test_last_running.json"),
			"--stem", "api_test",
		},
		&stdout,
		&stderr,
	)

	require.Equal(t, 0, exitCode, stderr.String())
	_, err := os.Stat(filepath.Join(dir, "api_test_log.json"))
	assert.True(t, os.IsNotExist(err), "no report must be written without a crash")
}

func TestRun_HandleAbortRecordsCrash(t *testing.T) {
	dir := t.TempDir()
	sentinelFile := filepath.Join(dir, "api_test_last_running.json")
	require.NoError(t, os.WriteFile(sentinelFile, []byte(`{
  "nodeid": "tests/api_test.py::APITest::testJit",
  "test_name": "testJit",
  "start_time": "2026-01-02T03:04:05",
  "gpu_id": 2
}`), 0o644))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	exitCode := run(
		[]string{
			"jaxci", "handle-abort",
			"--json", filepath.Join(dir, "api_test_log.json"),
			"--html", filepath.Join(dir, "api_test_log.html"),
			"--sentinel", sentinelFile,
			"--stem", "api_test",
		},
		&stdout,
		&stderr,
	)
	require.Equal(t, 0, exitCode, stderr.String())

	b, err := os.ReadFile(filepath.Join(dir, "api_test_log.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "testJit")
	assert.FileExists(t, filepath.Join(dir, "api_test_log.html"))
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := run([]string{"jaxci", "--version"}, &stdout, &stderr)

	require.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "jaxci")
}

func TestRun_SummaryEmptyLogDir(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := run(
		[]string{"jaxci", "summary", "--log-dir", t.TempDir(), "--state-file", "none"},
		&stdout,
		&stderr,
	)

	require.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "no pytest reports found")
}

func TestRun_ListMultiGPUTests(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := run(
		[]string{"jaxci", "list-multi-gpu-tests", "--test-filter", "pmap", "--log-dir", t.TempDir()},
		&stdout,
		&stderr,
	)

	require.Equal(t, 0, exitCode, stderr.String())
}
