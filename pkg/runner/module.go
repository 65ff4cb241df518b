package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/rocm/jaxci/pkg/abortreport"
	"github.com/rocm/jaxci/pkg/gpu"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/pytest"
	"github.com/rocm/jaxci/pkg/runstore"
	"github.com/rocm/jaxci/pkg/sentinel"
)

var handleAbort = abortreport.Handle

// ReportPaths returns the json and html report files of a module attempt.
// Attempt 0 writes "<stem>_log.json", attempt N "<stem>_retry<N>_log.json".
func ReportPaths(logDir string, stem string, attempt int) (jsonPath string, htmlPath string) {
	base := stem
	if attempt > 0 {
		base = stem + "_retry" + strconv.Itoa(attempt)
	}
	return filepath.Join(logDir, base+"_log.json"), filepath.Join(logDir, base+"_log.html")
}

// ModuleResult is the outcome of a module across its crash-recovery attempts.
type ModuleResult struct {
	Module   string
	GPU      int
	ExitCode int
	// Crashed holds the nodeids of the tests that crashed pytest, in order.
	Crashed  []string
	Attempts int
	Duration time.Duration
	// Output is the stdout and stderr of the last attempt.
	Stdout []byte
	Stderr []byte
}

// runModule runs one single-GPU test module. When a test crashes the
// interpreter the module is rerun with every crashed test deselected, up to
// max_crash_retries times, and the retry reports are folded into the
// module report.
func (r *Runner) runModule(ctx context.Context, module string, gpuID int, failFast bool) ModuleResult {
	stem := pytest.ModuleStem(module)
	sentinelPath := filepath.Join(r.cfg.LogDir, sentinel.FileName(stem))
	devices := gpu.VisibleDevices(gpuID)

	result := ModuleResult{Module: module, GPU: gpuID}
	var retryReports []string

	for attempt := 0; ; attempt++ {
		jsonPath, htmlPath := ReportPaths(r.cfg.LogDir, stem, attempt)
		if attempt > 0 {
			retryReports = append(retryReports, jsonPath)
			metricCrashRetriesTotal.Inc()
			log.Logger.Infow("rerunning module with crashed tests deselected",
				"module", stem,
				"attempt", attempt,
				"deselected", result.Crashed,
			)
		}

		// a stale sentinel would be reported as a crash of this attempt
		if err := sentinel.Remove(sentinelPath); err != nil {
			log.Logger.Warnw("failed to remove stale sentinel", "file", sentinelPath, "error", err)
		}

		cmd := pytest.Command{
			Python:     r.cfg.Python,
			JSONReport: jsonPath,
			HTMLReport: htmlPath,
			Reruns:     r.cfg.Reruns,
			FailFast:   failFast,
			Target:     module,
			Deselect:   append([]string(nil), result.Crashed...),
		}
		res, err := r.proc.Run(ctx, process.Spec{
			Args:    cmd.Args(),
			Env:     r.env(devices),
			Timeout: r.cfg.ModuleTimeout.Duration,
		})
		exitCode := res.ExitCode
		if err != nil {
			log.Logger.Errorw("failed to run test module", "module", stem, "error", err)
			exitCode = 1
		}
		if res.TimedOut {
			log.Logger.Errorw("test module timed out", "module", stem, "timeout", r.cfg.ModuleTimeout.Duration)
		}
		metricModuleDurationSeconds.WithLabelValues(string(runstore.KindSingle)).Observe(res.Duration.Seconds())

		result.Attempts++
		result.ExitCode = exitCode
		result.Duration += res.Duration
		result.Stdout, result.Stderr = res.Stdout, res.Stderr

		if ctx.Err() != nil {
			// a sentinel left by the kill is not a crash of the test
			r.recordAttempt(runstore.Attempt{
				Module:   stem,
				Attempt:  attempt,
				GPUs:     devices,
				ExitCode: exitCode,
				Duration: res.Duration,
			})
			break
		}

		handled, abort, herr := handleAbort(abortreport.Paths{
			JSON:     jsonPath,
			HTML:     htmlPath,
			Sentinel: sentinelPath,
		}, stem, r.now())
		if herr != nil {
			log.Logger.Errorw("failed to record aborted test", "module", stem, "error", herr)
		}

		crashedID := ""
		if handled {
			crashedID = abortreport.NodeID(stem, abort.TestName)
			metricCrashesTotal.WithLabelValues(stem).Inc()
		}
		r.recordAttempt(runstore.Attempt{
			Module:        stem,
			Attempt:       attempt,
			GPUs:          devices,
			ExitCode:      exitCode,
			CrashedNodeID: crashedID,
			Duration:      res.Duration,
		})

		if !handled {
			break
		}
		if slices.Contains(result.Crashed, crashedID) {
			// deselecting did not help, e.g. the crash happens at import
			log.Logger.Warnw("same test crashed again, giving up on module", "module", stem, "test", crashedID)
			break
		}
		result.Crashed = append(result.Crashed, crashedID)

		if attempt >= r.cfg.MaxCrashRetries {
			if r.cfg.MaxCrashRetries > 0 {
				log.Logger.Warnw("crash retries exhausted", "module", stem, "retries", r.cfg.MaxCrashRetries)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if len(retryReports) > 0 {
		base, _ := ReportPaths(r.cfg.LogDir, stem, 0)
		if err := MergeReports(base, retryReports); err != nil {
			log.Logger.Errorw("failed to merge retry reports", "module", stem, "error", err)
		}
	}

	if len(result.Crashed) > 0 && result.ExitCode == 0 {
		result.ExitCode = 1
	}

	metricModulesTotal.WithLabelValues(string(runstore.KindSingle)).Inc()
	metricModuleOutcomesTotal.WithLabelValues(string(runstore.KindSingle), outcomeOf(result.ExitCode, len(result.Crashed) > 0)).Inc()
	return result
}

func (res ModuleResult) String() string {
	return fmt.Sprintf("%s (gpu %d, exit code %d, attempts %d)", res.Module, res.GPU, res.ExitCode, res.Attempts)
}
