package pytest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "created": 1712345678.5,
  "duration": 12.25,
  "exitcode": 1,
  "root": "/rocm-jax/jax",
  "environment": {"Python": "3.12"},
  "summary": {"passed": 1, "failed": 1, "skipped": 1, "total": 3, "collected": 3},
  "collectors": [{"nodeid": "", "outcome": "passed", "result": []}],
  "warnings": [{"message": "deprecated"}],
  "tests": [
    {
      "nodeid": "tests/api_test.py::APITest::testJit",
      "lineno": 10,
      "outcome": "passed",
      "keywords": ["testJit", "APITest"],
      "setup": {"duration": 0.01, "outcome": "passed"},
      "call": {"duration": 1.5, "outcome": "passed"},
      "teardown": {"duration": 0.0, "outcome": "passed"},
      "metadata": {"foo": "bar"}
    },
    {
      "nodeid": "tests/api_test.py::APITest::testGrad",
      "lineno": 20,
      "outcome": "failed",
      "call": {"duration": 2.0, "outcome": "failed", "longrepr": "AssertionError", "crash": {"path": "/x.py", "lineno": 3, "message": "boom"}}
    },
    {
      "nodeid": "tests/api_test.py::APITest::testTpu",
      "lineno": 30,
      "outcome": "skipped",
      "setup": {"duration": 0.0, "outcome": "skipped", "longrepr": ["/x.py", 12, "Skipped: TPU only"]}
    }
  ]
}`

func writeFile(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadReport(t *testing.T) {
	p := writeFile(t, t.TempDir(), "api_test_log.json", sampleReport)

	r, err := LoadReport(p)
	require.NoError(t, err)

	assert.Equal(t, 1, r.ExitCode)
	assert.Equal(t, "/rocm-jax/jax", r.Root)
	assert.Equal(t, 3, r.Summary.Get("total"))
	assert.False(t, r.Summary.Has("unskipped_total"))
	require.Len(t, r.Tests, 3)

	assert.Equal(t, OutcomePassed, r.Tests[0].Outcome)
	assert.Equal(t, 1.5, r.Tests[0].CallDuration())
	assert.Contains(t, r.Tests[0].Extra, "metadata")

	assert.Equal(t, "AssertionError", r.Tests[1].LongreprOrEmpty())
	require.NotNil(t, r.Tests[1].Call.Crash)
	assert.Equal(t, "boom", r.Tests[1].Call.Crash.Message)

	// list-shaped longrepr is kept as raw json text
	assert.Equal(t, `["/x.py", 12, "Skipped: TPU only"]`, r.Tests[2].Setup.Longrepr)
	assert.Equal(t, "", r.Tests[2].LongreprOrEmpty())
	assert.Zero(t, r.Tests[2].CallDuration())

	assert.Contains(t, r.Extra, "warnings")
}

func TestReportRoundTripKeepsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	r, err := LoadReport(writeFile(t, dir, "in.json", sampleReport))
	require.NoError(t, err)

	out := filepath.Join(dir, "sub", "out.json")
	require.NoError(t, WriteReport(out, r, 4))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "\n    \""), "expected 4-space indent")

	var generic map[string]any
	require.NoError(t, json.Unmarshal(b, &generic))
	assert.Contains(t, generic, "warnings")
	tests := generic["tests"].([]any)
	assert.Contains(t, tests[0].(map[string]any), "metadata")

	again, err := LoadReport(out)
	require.NoError(t, err)
	assert.Equal(t, r.Summary, again.Summary)
	assert.Len(t, again.Tests, 3)

	// no leftover temp files
	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadReportErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadReport(filepath.Join(dir, "missing.json"))
	assert.True(t, os.IsNotExist(err))

	_, err = LoadReport(writeFile(t, dir, "bad.json", "{not json"))
	assert.Error(t, err)
}

func TestEmptyReportMarshal(t *testing.T) {
	b, err := json.Marshal(Report{})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"tests":[]`)
	assert.Contains(t, string(b), `"summary":{}`)
}

func TestSummaryAdd(t *testing.T) {
	s := Summary{"failed": 1}
	s.Add("failed", 1)
	s.Add("total", 2)
	s.AddExisting("unskipped_total", 1)
	assert.Equal(t, Summary{"failed": 2, "total": 2}, s)
}

func TestParseCollectLog(t *testing.T) {
	log := strings.Join([]string{
		`{"pytest_version": "8.3.2", "$report_type": "SessionStart"}`,
		`{"nodeid": "", "outcome": "passed", "$report_type": "CollectReport"}`,
		`{"nodeid": "tests/api_test.py", "outcome": "passed", "$report_type": "CollectReport"}`,
		`{"nodeid": "tests/api_test.py::APITest::testJit", "$report_type": "CollectReport"}`,
		``,
		`{"nodeid": "tests/lax_test.py::LaxTest", "$report_type": "CollectReport"}`,
		`{"nodeid": "tests/conftest", "$report_type": "CollectReport"}`,
		`{"exitstatus": 0, "$report_type": "SessionFinish"}`,
	}, "\n")

	jaxDir := t.TempDir()
	got, err := ParseCollectLog(strings.NewReader(log), jaxDir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(jaxDir, "tests/api_test.py"),
		filepath.Join(jaxDir, "tests/lax_test.py"),
	}, got)

	_, err = ParseCollectLog(strings.NewReader("{bad"), jaxDir)
	assert.Error(t, err)
}

func TestParseCollectLogFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "collect.jsonl", `{"nodeid": "tests/a_test.py::t"}`+"\n")
	got, err := ParseCollectLogFile(p, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "tests/a_test.py")}, got)

	_, err = ParseCollectLogFile(filepath.Join(dir, "nope"), dir)
	assert.Error(t, err)
}

func TestSplitNodeID(t *testing.T) {
	tests := []struct {
		in                string
		file, class, test string
	}{
		{"tests/a.py::Cls::test_x", "tests/a.py", "Cls", "test_x"},
		{"tests/a.py::test_x", "tests/a.py", "", "test_x"},
		{"tests/a.py", "tests/a.py", "", ""},
		{"tests/a.py::Cls::test_x[a::b]", "tests/a.py", "Cls", "test_x[a::b]"},
	}
	for _, tt := range tests {
		f, c, n := SplitNodeID(tt.in)
		assert.Equal(t, tt.file, f, tt.in)
		assert.Equal(t, tt.class, c, tt.in)
		assert.Equal(t, tt.test, n, tt.in)
	}
}

func TestModuleStem(t *testing.T) {
	assert.Equal(t, "api_test", ModuleStem("/src/jax/tests/api_test.py"))
	assert.Equal(t, "gpu_test", ModuleStem("tests/mosaic/gpu_test.py"))
}

func TestCommandArgs(t *testing.T) {
	c := Command{
		JSONReport: "logs/api_test_log.json",
		HTMLReport: "logs/api_test_log.html",
		Reruns:     3,
		FailFast:   true,
		Target:     "/jax/tests/api_test.py",
		Deselect:   []string{"tests/api_test.py::A::b"},
	}
	assert.Equal(t, []string{
		"python3", "-m", "pytest",
		"--json-report",
		"--json-report-file=logs/api_test_log.json",
		"--html=logs/api_test_log.html",
		"--reruns", "3",
		"-x",
		"-v", "/jax/tests/api_test.py",
		"--deselect=tests/api_test.py::A::b",
	}, c.Args())

	c.FailFast = false
	c.Python = "/usr/bin/python3.12"
	c.Deselect = nil
	args := c.Args()
	assert.Equal(t, "/usr/bin/python3.12", args[0])
	assert.NotContains(t, args, "-x")
	assert.Equal(t, "/jax/tests/api_test.py", args[len(args)-1])
}

func TestCollectArgs(t *testing.T) {
	assert.Equal(t, []string{
		"python3", "-m", "pytest", "--import-mode=prepend", "--collect-only",
		"./jax/tests", "--report-log=logs/collect_module_log.jsonl",
	}, CollectArgs("", "./jax/tests", "logs/collect_module_log.jsonl"))
}
