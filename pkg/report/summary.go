package report

import (
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/pytest"
	"github.com/rocm/jaxci/pkg/skipreason"
)

// abortKeyword marks the synthetic tests recorded for crashed tests.
const abortKeyword = "abort"

// ModuleReport is a loaded per-module report.
type ModuleReport struct {
	// Module is the report file name without the "_log.json" suffix.
	Module string
	Report *pytest.Report
}

// LoadModuleReports loads every module report of logDir.
// Unreadable reports are logged and skipped.
func LoadModuleReports(logDir string) ([]ModuleReport, error) {
	files, err := ModuleReports(logDir)
	if err != nil {
		return nil, err
	}
	out := make([]ModuleReport, 0, len(files))
	for _, f := range files {
		r, err := pytest.LoadReport(f)
		if err != nil {
			log.Logger.Warnw("skipping unreadable report", "file", f, "error", err)
			continue
		}
		out = append(out, ModuleReport{
			Module: strings.TrimSuffix(filepath.Base(f), ModuleReportSuffix),
			Report: r,
		})
	}
	return out, nil
}

// ModuleSummary lists the tests of a module that need attention.
type ModuleSummary struct {
	Module  string         `json:"module"`
	Counts  map[string]int `json:"counts"`
	Failed  []string       `json:"failed,omitempty"`
	Crashed []string       `json:"crashed,omitempty"`
}

// SkippedTest is a skipped test with its extracted reason.
type SkippedTest struct {
	NodeID string `json:"nodeid"`
	Reason string `json:"reason"`
}

// Summary aggregates the module reports of a run.
type Summary struct {
	// Totals counts tests by outcome.
	Totals  map[string]int  `json:"totals"`
	Modules []ModuleSummary `json:"modules"`
	// Skips groups skipped tests by skip category.
	Skips map[string][]SkippedTest `json:"skips"`
}

// Categories returns the skip categories sorted by descending test count,
// then by name.
func (s Summary) Categories() []string {
	cats := make([]string, 0, len(s.Skips))
	for c := range s.Skips {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		ni, nj := len(s.Skips[cats[i]]), len(s.Skips[cats[j]])
		if ni != nj {
			return ni > nj
		}
		return cats[i] < cats[j]
	})
	return cats
}

// Summarize counts outcomes, collects failed and crashed tests per module,
// and categorises every skipped test by its reason.
func Summarize(reports []ModuleReport) Summary {
	sum := Summary{
		Totals: make(map[string]int),
		Skips:  make(map[string][]SkippedTest),
	}
	for _, mr := range reports {
		ms := ModuleSummary{Module: mr.Module, Counts: make(map[string]int)}
		for _, t := range mr.Report.Tests {
			sum.Totals[t.Outcome]++
			ms.Counts[t.Outcome]++

			switch t.Outcome {
			case pytest.OutcomeFailed, pytest.OutcomeError:
				if slices.Contains(t.Keywords, abortKeyword) {
					ms.Crashed = append(ms.Crashed, t.NodeID)
				} else {
					ms.Failed = append(ms.Failed, t.NodeID)
				}

			case pytest.OutcomeSkipped:
				file, _, name := pytest.SplitNodeID(t.NodeID)
				reason := skipreason.FromLongrepr(skipLongrepr(t))
				cat := skipreason.Categorize(file, name, reason)
				sum.Skips[cat] = append(sum.Skips[cat], SkippedTest{NodeID: t.NodeID, Reason: reason})
			}
		}
		sum.Modules = append(sum.Modules, ms)
	}
	return sum
}

// skipLongrepr returns the longrepr of the stage that skipped the test:
// setup for skip markers, call for pytest.skip() in the test body.
func skipLongrepr(t pytest.Test) string {
	for _, st := range []*pytest.Stage{t.Setup, t.Call, t.Teardown} {
		if st != nil && st.Outcome == pytest.OutcomeSkipped && st.Longrepr != "" {
			return st.Longrepr
		}
	}
	return ""
}
