package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rocm/jaxci/pkg/abortreport"
	"github.com/rocm/jaxci/pkg/gpu"
	"github.com/rocm/jaxci/pkg/host"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/pytest"
	"github.com/rocm/jaxci/pkg/runstore"
	"github.com/rocm/jaxci/pkg/sentinel"
)

// MultiGPUPrefix prefixes the report files of multi-GPU tests.
const MultiGPUPrefix = "multi_gpu_"

var (
	waitForMemory = host.WaitForMemory
	cleanupHost   = func(ctx context.Context, wait time.Duration) {
		host.Cleaner{Wait: wait}.Cleanup(ctx)
	}
)

// MultiOptions configures a multi-GPU run.
type MultiOptions struct {
	// GPUCount visible to each test, capped at MaxGPUs.
	GPUCount int
	// MaxGPUs caps GPUCount. Zero uses max_gpus_per_test.
	MaxGPUs int
	// Filter keeps only the tests whose path contains it.
	Filter         string
	ContinueOnFail bool
	// IgnoreSkipfile runs the deselected tests too.
	IgnoreSkipfile bool
}

// FailedTest is a multi-GPU test that exited non-zero.
type FailedTest struct {
	Test     string `json:"test"`
	ExitCode int    `json:"exit_code"`
}

// MultiSummary is the outcome of a multi-GPU run.
type MultiSummary struct {
	Passed      []string     `json:"passed"`
	Failed      []FailedTest `json:"failed"`
	Interrupted bool         `json:"interrupted"`
}

// ExitCode is 130 when interrupted, 0 with continueOnFail, and otherwise 1
// if any test failed.
func (s MultiSummary) ExitCode(continueOnFail bool) int {
	switch {
	case s.Interrupted:
		return InterruptExitCode
	case continueOnFail:
		return 0
	case len(s.Failed) > 0:
		return 1
	default:
		return 0
	}
}

// RunMulti runs the multi-GPU tests one at a time, each seeing the first
// GPUCount GPUs, cleaning up stray processes and shared memory after each.
func (r *Runner) RunMulti(ctx context.Context, opts MultiOptions) MultiSummary {
	maxGPUs := opts.MaxGPUs
	if maxGPUs <= 0 {
		maxGPUs = r.cfg.MaxGPUsPerTest
	}
	tests := r.cfg.SortedMultiGPUTests(opts.Filter)
	if opts.Filter != "" {
		fmt.Fprintf(r.out, "Filtered to %d tests containing '%s'\n", len(tests), opts.Filter)
	}
	fmt.Fprintf(r.out, "Running %d multi-GPU tests with up to %d GPUs each\n", len(tests), maxGPUs)

	if err := r.cfg.EnsureLogDir(); err != nil {
		log.Logger.Errorw("failed to create log dir", "dir", r.cfg.LogDir, "error", err)
	}
	r.startRun(ctx, runstore.KindMulti, 1)

	var sum MultiSummary
	for i, test := range tests {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		fmt.Fprintf(r.out, "\n[%d/%d] Running %s\n", i+1, len(tests), test)

		code := r.runMultiTest(ctx, test, opts.GPUCount, maxGPUs, opts.IgnoreSkipfile, !opts.ContinueOnFail)
		if ctx.Err() != nil {
			fmt.Fprintf(r.out, "\nInterrupted during %s\n", test)
			sum.Interrupted = true
			break
		}
		if code == 0 {
			sum.Passed = append(sum.Passed, test)
			continue
		}
		sum.Failed = append(sum.Failed, FailedTest{Test: test, ExitCode: code})
		if !opts.ContinueOnFail {
			fmt.Fprintln(r.out, "fail-fast: stopping after first failure")
			break
		}
	}

	r.PrintMultiSummary(sum)
	r.finishRun(sum.ExitCode(opts.ContinueOnFail))
	return sum
}

// PrintMultiSummary prints the passed and failed counts and the failed tests.
func (r *Runner) PrintMultiSummary(sum MultiSummary) {
	fmt.Fprintln(r.out, "\n=== FINAL SUMMARY ===")
	fmt.Fprintf(r.out, "Passed: %d\n", len(sum.Passed))
	fmt.Fprintf(r.out, "Failed: %d\n", len(sum.Failed))
	if len(sum.Failed) == 0 {
		return
	}
	fmt.Fprintln(r.out, "\nFailed tests:")
	for _, f := range sum.Failed {
		fmt.Fprintf(r.out, "  %s (exit code: %d)\n", f.Test, f.ExitCode)
	}
}

// runMultiTest runs one multi-GPU test module and returns its exit code:
// 124 on timeout and 1 when pytest could not be launched.
func (r *Runner) runMultiTest(ctx context.Context, test string, gpuCount int, maxGPUs int, ignoreSkipfile bool, failFast bool) int {
	if maxGPUs > 0 && gpuCount > maxGPUs {
		log.Logger.Infow("limiting GPU count for stability", "requested", gpuCount, "max", maxGPUs)
		gpuCount = maxGPUs
	}
	if gpuCount < 1 {
		gpuCount = 1
	}
	devices := gpu.VisibleDevices(gpu.FirstN(gpuCount)...)

	stem := pytest.ModuleStem(test)
	fileStem := MultiGPUPrefix + stem
	jsonPath, htmlPath := ReportPaths(r.cfg.LogDir, fileStem, 0)
	sentinelPath := filepath.Join(r.cfg.LogDir, sentinel.FileName(stem))

	fmt.Fprintf(r.out, "=== Starting multi-GPU test: %s ===\n", test)
	fmt.Fprintf(r.out, "GPUs: %s (count: %d)\n", devices, gpuCount)
	fmt.Fprintf(r.out, "Timestamp: %s\n", r.now().Format(time.DateTime))

	// runs on every exit path, interrupted or not
	defer cleanupHost(context.WithoutCancel(ctx), r.cfg.CleanupWait.Duration)

	if err := waitForMemory(ctx, r.cfg.MinAvailableMemoryGB, LowMemoryWait); err != nil {
		return 1
	}

	if err := sentinel.Remove(sentinelPath); err != nil {
		log.Logger.Warnw("failed to remove stale sentinel", "file", sentinelPath, "error", err)
	}

	cmd := pytest.Command{
		Python:     r.cfg.Python,
		JSONReport: absPath(jsonPath),
		HTMLReport: absPath(htmlPath),
		Reruns:     r.cfg.Reruns,
		FailFast:   failFast,
		Target:     filepath.Join(r.cfg.JAXDir, test),
	}
	if !ignoreSkipfile {
		cmd.Deselect = r.cfg.Deselected(stem)
	}
	args := cmd.Args()
	fmt.Fprintf(r.out, "Running: %s\n", process.Spec{Args: args})

	res, err := r.proc.Run(ctx, process.Spec{
		Args:    args,
		Env:     r.env(devices),
		Timeout: r.cfg.ModuleTimeout.Duration,
	})
	metricModulesTotal.WithLabelValues(string(runstore.KindMulti)).Inc()
	metricModuleDurationSeconds.WithLabelValues(string(runstore.KindMulti)).Observe(res.Duration.Seconds())

	code := res.ExitCode
	switch {
	case err != nil:
		fmt.Fprintf(r.out, "ERROR: Exception running test %s: %v\n", test, err)
		code = 1
	case res.TimedOut:
		fmt.Fprintf(r.out, "ERROR: Test %s timed out after %s\n", test, r.cfg.ModuleTimeout.Duration)
		code = timeoutExitCode
	default:
		fmt.Fprintf(r.out, "Test completed in %.2fs with exit code: %d\n", res.Duration.Seconds(), code)
		if len(res.Stdout) > 0 {
			fmt.Fprintln(r.out, "STDOUT:", string(res.Stdout))
		}
		if len(res.Stderr) > 0 {
			fmt.Fprintln(r.out, "STDERR:", string(res.Stderr))
		}
	}

	crashedID := ""
	// a sentinel left behind by an interrupt kill is not a crash
	if err == nil && !res.TimedOut && ctx.Err() == nil {
		handled, abort, herr := handleAbort(abortreport.Paths{
			JSON:     jsonPath,
			HTML:     htmlPath,
			Sentinel: sentinelPath,
		}, fileStem, r.now())
		if herr != nil {
			log.Logger.Errorw("failed to record aborted test", "test", test, "error", herr)
		}
		if handled {
			crashedID = abortreport.NodeID(fileStem, abort.TestName)
			metricCrashesTotal.WithLabelValues(fileStem).Inc()
			fmt.Fprintf(r.out, "Abort handling completed for %s\n", stem)
		}
	}

	r.recordAttempt(runstore.Attempt{
		Module:        fileStem,
		GPUs:          devices,
		ExitCode:      code,
		CrashedNodeID: crashedID,
		Duration:      res.Duration,
	})
	metricModuleOutcomesTotal.WithLabelValues(string(runstore.KindMulti), outcomeOf(code, crashedID != "")).Inc()
	return code
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
