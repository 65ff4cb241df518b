// Package config provides the jaxci configuration for the test runners.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Config provides jaxci configuration data for the runners.
type Config struct {
	// Directory the pytest json/html reports, sentinels and the final
	// compiled reports are written to.
	LogDir string `json:"log_dir"`

	// JAX checkout whose tests/ directory is collected and run.
	JAXDir string `json:"jax_dir"`

	// Python interpreter used to invoke pytest.
	Python string `json:"python"`

	// Number of pytest-rerunfailures reruns for flaky tests.
	Reruns int `json:"reruns"`

	// Flat timeout of one pytest invocation.
	ModuleTimeout metav1.Duration `json:"module_timeout"`

	// Number of times a module is rerun with the crashed tests deselected.
	// Set 0 to disable crash recovery.
	MaxCrashRetries int `json:"max_crash_retries"`

	// Upper bound of GPUs a multi-GPU test module may see.
	MaxGPUsPerTest int `json:"max_gpus_per_test"`

	// Test modules (relative to jax_dir) that need more than one GPU.
	// They are excluded from single-GPU runs and run by run-multi.
	MultiGPUTests []string `json:"multi_gpu_tests"`

	// Nodeids deselected per module stem in multi-GPU runs.
	DeselectedTests map[string][]string `json:"deselected_tests"`

	// Extra environment variables for every pytest invocation.
	Env map[string]string `json:"env"`

	// Multi-GPU runs wait before a test when less memory than this is available.
	MinAvailableMemoryGB float64 `json:"min_available_memory_gb"`

	// Time spent settling after stray pytest processes are killed between
	// multi-GPU tests.
	CleanupWait metav1.Duration `json:"cleanup_wait"`

	// Command that merges the per-module html reports.
	HTMLMerger string `json:"html_merger"`

	// SQLite file recording runs and module attempts.
	// Defaults to a file in log_dir. Set "none" to not record runs.
	StateFile string `json:"state_file"`

	// Prometheus textfile the run metrics are written to.
	// Defaults to a file in log_dir. Set "none" to not write metrics.
	MetricsFile string `json:"metrics_file"`
}

// Disabled turns off the state_file and metrics_file outputs.
const Disabled = "none"

var (
	ErrEmptyLogDir = errors.New("log_dir is required")
	ErrEmptyJAXDir = errors.New("jax_dir is required")
	ErrEmptyPython = errors.New("python is required")
)

func (config *Config) Validate() error {
	if config.LogDir == "" {
		return ErrEmptyLogDir
	}
	if config.JAXDir == "" {
		return ErrEmptyJAXDir
	}
	if config.Python == "" {
		return ErrEmptyPython
	}
	if config.Reruns < 0 {
		return fmt.Errorf("reruns must be non-negative, got %d", config.Reruns)
	}
	if config.ModuleTimeout.Duration < time.Second {
		return fmt.Errorf("module_timeout must be at least 1 second, got %s", config.ModuleTimeout.Duration)
	}
	if config.MaxCrashRetries < 0 {
		return fmt.Errorf("max_crash_retries must be non-negative, got %d", config.MaxCrashRetries)
	}
	if config.MaxGPUsPerTest < 1 {
		return fmt.Errorf("max_gpus_per_test must be at least 1, got %d", config.MaxGPUsPerTest)
	}
	if config.MinAvailableMemoryGB < 0 {
		return fmt.Errorf("min_available_memory_gb must be non-negative, got %v", config.MinAvailableMemoryGB)
	}
	if config.CleanupWait.Duration < 0 {
		return fmt.Errorf("cleanup_wait must be non-negative, got %s", config.CleanupWait.Duration)
	}
	for _, t := range config.MultiGPUTests {
		if !strings.HasSuffix(t, ".py") {
			return fmt.Errorf("multi_gpu_tests entry %q is not a python file", t)
		}
	}
	return nil
}

// TestsDir is the directory pytest collects from.
func (config *Config) TestsDir() string {
	return filepath.Join(config.JAXDir, "tests")
}

// IsMultiGPUTest reports whether the module path relative to jax_dir
// (e.g. "tests/pmap_test.py") is a multi-GPU test.
func (config *Config) IsMultiGPUTest(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	for _, t := range config.MultiGPUTests {
		if filepath.ToSlash(filepath.Clean(t)) == rel {
			return true
		}
	}
	return false
}

// SortedMultiGPUTests returns the multi-GPU tests in run order,
// optionally keeping only those containing filter.
func (config *Config) SortedMultiGPUTests(filter string) []string {
	out := make([]string, 0, len(config.MultiGPUTests))
	seen := make(map[string]struct{}, len(config.MultiGPUTests))
	for _, t := range config.MultiGPUTests {
		if filter != "" && !strings.Contains(t, filter) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// StateEnabled reports whether runs are recorded in the state file.
func (config *Config) StateEnabled() bool {
	return config.StateFile != "" && config.StateFile != Disabled
}

// MetricsEnabled reports whether run metrics are written.
func (config *Config) MetricsEnabled() bool {
	return config.MetricsFile != "" && config.MetricsFile != Disabled
}

// Deselected returns the nodeids deselected for a module stem.
func (config *Config) Deselected(stem string) []string {
	return config.DeselectedTests[stem]
}
