// Package abortreport splices a synthetic failed test into the pytest json
// and html reports of a module whose interpreter crashed mid-test, so the
// crash shows up in the final compiled report.
package abortreport

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/pytest"
	"github.com/rocm/jaxci/pkg/sentinel"
)

const (
	// jsonIndent matches what pytest-json-report writes.
	jsonIndent = 2

	defaultRoot = "/rocm-jax/jax"
)

// NodeID returns the nodeid of the synthetic test.
// A name that is already a full nodeid ("tests/x.py::...") is kept,
// anything else is qualified with the module file.
func NodeID(stem string, testName string) string {
	if strings.HasPrefix(testName, "tests/") && strings.Contains(testName, "::") {
		return testName
	}
	return fmt.Sprintf("tests/%s.py::%s", stem, testName)
}

func longrepr(a *sentinel.Abort, sep string) string {
	return strings.Join([]string{
		"Test aborted: " + a.Reason,
		"Test Class: " + a.TestClass,
		"Abort detected at: " + sentinel.FormatTime(a.AbortTime),
		"GPU ID: " + a.GPUID,
	}, sep)
}

// Test builds the failed pytest entry for an abort.
func Test(stem string, a *sentinel.Abort) pytest.Test {
	return pytest.Test{
		NodeID:   NodeID(stem, a.TestName),
		LineNo:   1,
		Outcome:  pytest.OutcomeFailed,
		Keywords: []string{a.TestName, stem, "abort", a.TestClass, ""},
		Setup:    &pytest.Stage{Duration: 0, Outcome: pytest.OutcomePassed},
		Call: &pytest.Stage{
			Duration: a.Duration.Seconds(),
			Outcome:  pytest.OutcomeFailed,
			Longrepr: longrepr(a, "\n"),
		},
		Teardown: &pytest.Stage{Duration: 0, Outcome: pytest.OutcomeSkipped},
	}
}

// NewReport builds a report holding only the abort, used when pytest died
// before writing its own.
func NewReport(stem string, a *sentinel.Abort, now time.Time) *pytest.Report {
	collector, _ := json.Marshal(map[string]any{
		"nodeid":  "",
		"outcome": pytest.OutcomeFailed,
		"result": []map[string]string{
			{"nodeid": "tests/" + stem + ".py", "type": "Module"},
		},
	})
	return &pytest.Report{
		Created:     float64(now.UnixNano()) / 1e9,
		Duration:    a.Duration.Seconds(),
		ExitCode:    1,
		Root:        defaultRoot,
		Environment: json.RawMessage(`{}`),
		Summary: pytest.Summary{
			"passed":          0,
			"failed":          1,
			"total":           1,
			"collected":       1,
			"unskipped_total": 1,
		},
		Collectors: []json.RawMessage{collector},
		Tests:      []pytest.Test{Test(stem, a)},
	}
}

// AppendAbort adds the abort test to r and bumps its counters.
func AppendAbort(r *pytest.Report, stem string, a *sentinel.Abort) {
	r.Tests = append(r.Tests, Test(stem, a))
	if r.Summary == nil {
		r.Summary = pytest.Summary{}
	}
	r.Summary.Add("failed", 1)
	r.Summary.Add("total", 1)
	r.Summary.Add("collected", 1)
	r.Summary.AddExisting("unskipped_total", 1)
	r.ExitCode = 1
}

// AppendJSON appends the abort to the json report at path.
// A missing or unparsable report is replaced by a fresh abort-only one.
func AppendJSON(path string, stem string, a *sentinel.Abort) error {
	r, err := pytest.LoadReport(path)
	switch {
	case err == nil:
		AppendAbort(r, stem, a)
		log.Logger.Infow("appended abort test to existing json report", "file", path)

	case os.IsNotExist(err):
		r = NewReport(stem, a, a.AbortTime)
		log.Logger.Infow("created new json report with abort test", "file", path)

	default:
		log.Logger.Warnw("failed to parse existing json report, creating new one", "file", path, "error", err)
		r = NewReport(stem, a, a.AbortTime)
	}

	if err := pytest.WriteReport(path, r, jsonIndent); err != nil {
		return fmt.Errorf("failed to write json report for %s: %w", stem, err)
	}
	return nil
}
