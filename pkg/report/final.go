// Package report builds the final compiled reports of a run from the
// per-module pytest reports in the log directory.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/pytest"
)

const (
	// ModuleReportSuffix ends every per-module json report name.
	ModuleReportSuffix = "_log.json"

	FinalJSONFileName = "final_compiled_report.json"
	FinalHTMLFileName = "final_compiled_report.html"

	finalJSONIndent = 4
)

// ModuleReports returns the per-module json report files in logDir, sorted.
func ModuleReports(logDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(logDir, "*"+ModuleReportSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// CombineJSON writes every module report of logDir as one json array to
// final_compiled_report.json and returns its path. Reports that are not
// valid json are logged and skipped.
func CombineJSON(logDir string) (string, error) {
	files, err := ModuleReports(logDir)
	if err != nil {
		return "", err
	}

	combined := make([]json.RawMessage, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			log.Logger.Warnw("skipping unreadable report", "file", f, "error", err)
			continue
		}
		if !json.Valid(b) {
			log.Logger.Warnw("skipping invalid json report", "file", f)
			continue
		}
		combined = append(combined, json.RawMessage(b))
	}

	out := filepath.Join(logDir, FinalJSONFileName)
	if err := pytest.WriteJSONFile(out, combined, finalJSONIndent); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}
	log.Logger.Infow("combined json reports", "file", out, "reports", len(combined))
	return out, nil
}

// MergeHTML runs the html merger over logDir, writing
// final_compiled_report.html. A failing merger returns an error carrying
// its stderr.
func MergeHTML(ctx context.Context, runner process.Runner, merger string, logDir string) (string, error) {
	fields := strings.Fields(merger)
	if len(fields) == 0 {
		return "", process.ErrEmptyCommand
	}
	out := filepath.Join(logDir, FinalHTMLFileName)
	args := append(fields, "-i", logDir, "-o", out)

	res, err := runner.Run(ctx, process.Spec{Args: args})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s exited with code %d: %s", merger, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return out, nil
}

// GenerateFinal merges the html reports and combines the json reports.
// An html merger failure is logged and the json report is still written.
func GenerateFinal(ctx context.Context, runner process.Runner, merger string, logDir string) error {
	if html, err := MergeHTML(ctx, runner, merger, logDir); err != nil {
		log.Logger.Errorw("html merger failed, continuing with json report generation", "error", err)
	} else {
		log.Logger.Infow("merged html reports", "file", html)
	}

	_, err := CombineJSON(logDir)
	return err
}
