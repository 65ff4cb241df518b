package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/pytest"
)

// CollectLogFileName is the pytest --report-log written by the collection.
const CollectLogFileName = "collect_module_log.jsonl"

// CollectModules runs pytest --collect-only on the jax tests and returns the
// absolute paths of the single-GPU test modules, sorted.
// A failed collection returns a *CommandError carrying pytest's exit code.
func (r *Runner) CollectModules(ctx context.Context) ([]string, error) {
	if err := r.cfg.EnsureLogDir(); err != nil {
		return nil, err
	}
	logFile := filepath.Join(r.cfg.LogDir, CollectLogFileName)

	spec := process.Spec{
		Args: pytest.CollectArgs(r.cfg.Python, r.cfg.TestsDir(), logFile),
		Env:  process.EnvMapToList(r.cfg.Env),
	}
	res, err := r.proc.Run(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("test module discovery failed: %w", err)
	}
	if res.ExitCode != 0 {
		log.Logger.Errorw("test module discovery failed",
			"exitCode", res.ExitCode,
			"stdout", string(res.Stdout),
			"stderr", string(res.Stderr),
		)
		return nil, &CommandError{Command: "pytest --collect-only", ExitCode: res.ExitCode}
	}

	all, err := pytest.ParseCollectLogFile(logFile, r.cfg.JAXDir)
	if err != nil {
		return nil, err
	}

	jaxDir, err := filepath.Abs(r.cfg.JAXDir)
	if err != nil {
		return nil, err
	}

	var (
		modules  []string
		excluded int
	)
	for _, m := range all {
		rel, err := filepath.Rel(jaxDir, m)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = m
		}
		if r.cfg.IsMultiGPUTest(rel) {
			log.Logger.Infow("excluding multi-GPU test", "module", rel)
			excluded++
			continue
		}
		log.Logger.Debugw("including test module", "module", rel)
		modules = append(modules, m)
	}

	log.Logger.Infow("collected test modules", "found", len(modules), "excludedMultiGPU", excluded)
	fmt.Fprintln(r.out, "---------- collected test modules ----------")
	fmt.Fprintf(r.out, "Found %d test modules.\n", len(modules))
	fmt.Fprintf(r.out, "Excluded %d multi-GPU test modules.\n", excluded)
	fmt.Fprintln(r.out, "--------------------------------------------")
	fmt.Fprintln(r.out, strings.Join(modules, "\n"))
	return modules, nil
}
