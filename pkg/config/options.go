package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Op holds the overrides applied on top of the defaults or a config file,
// typically from command-line flags. Zero values leave the field as is.
type Op struct {
	LogDir          string
	JAXDir          string
	Python          string
	Reruns          *int
	ModuleTimeout   time.Duration
	MaxCrashRetries *int
	MaxGPUsPerTest  int
	StateFile       string
	MetricsFile     string
	HTMLMerger      string
}

type OpOption func(*Op)

func (op *Op) ApplyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}
	return nil
}

func (op *Op) apply(cfg *Config) {
	if op.LogDir != "" {
		cfg.LogDir = op.LogDir
	}
	if op.JAXDir != "" {
		cfg.JAXDir = op.JAXDir
	}
	if op.Python != "" {
		cfg.Python = op.Python
	}
	if op.Reruns != nil {
		cfg.Reruns = *op.Reruns
	}
	if op.ModuleTimeout > 0 {
		cfg.ModuleTimeout = metav1.Duration{Duration: op.ModuleTimeout}
	}
	if op.MaxCrashRetries != nil {
		cfg.MaxCrashRetries = *op.MaxCrashRetries
	}
	if op.MaxGPUsPerTest > 0 {
		cfg.MaxGPUsPerTest = op.MaxGPUsPerTest
	}
	if op.StateFile != "" {
		cfg.StateFile = op.StateFile
	}
	if op.MetricsFile != "" {
		cfg.MetricsFile = op.MetricsFile
	}
	if op.HTMLMerger != "" {
		cfg.HTMLMerger = op.HTMLMerger
	}
}

// WithLogDir overrides the directory reports are written to.
func WithLogDir(dir string) OpOption {
	return func(op *Op) {
		op.LogDir = dir
	}
}

// WithJAXDir overrides the JAX checkout to test.
func WithJAXDir(dir string) OpOption {
	return func(op *Op) {
		op.JAXDir = dir
	}
}

func WithPython(python string) OpOption {
	return func(op *Op) {
		op.Python = python
	}
}

func WithReruns(n int) OpOption {
	return func(op *Op) {
		op.Reruns = &n
	}
}

func WithModuleTimeout(d time.Duration) OpOption {
	return func(op *Op) {
		op.ModuleTimeout = d
	}
}

// WithMaxCrashRetries sets the crash-recovery retry budget.
// 0 disables crash recovery.
func WithMaxCrashRetries(n int) OpOption {
	return func(op *Op) {
		op.MaxCrashRetries = &n
	}
}

func WithMaxGPUsPerTest(n int) OpOption {
	return func(op *Op) {
		op.MaxGPUsPerTest = n
	}
}

// WithStateFile overrides the run ledger location ("none" disables it).
func WithStateFile(p string) OpOption {
	return func(op *Op) {
		op.StateFile = p
	}
}

// WithMetricsFile overrides the metrics textfile location ("none" disables it).
func WithMetricsFile(p string) OpOption {
	return func(op *Op) {
		op.MetricsFile = p
	}
}

func WithHTMLMerger(cmd string) OpOption {
	return func(op *Op) {
		op.HTMLMerger = cmd
	}
}
