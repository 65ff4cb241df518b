// Package runner orchestrates the pytest invocations of a test run: the
// parallel single-GPU runner and the sequential multi-GPU runner, both
// recovering from tests that crash the interpreter.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rocm/jaxci/pkg/config"
	"github.com/rocm/jaxci/pkg/gpu"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/runstore"
)

const (
	timeoutExitCode = process.TimeoutExitCode

	// InterruptExitCode is returned when the run is cancelled (SIGINT).
	InterruptExitCode = 130

	// DefaultGPUCount is assumed when rocm-smi cannot be queried.
	DefaultGPUCount = 8

	// LowMemoryWait is how long a multi-GPU test waits when memory is low.
	LowMemoryWait = 30 * time.Second
)

// Ledger records runs and module attempts.
// Implemented by "github.com/rocm/jaxci/pkg/runstore".Store.
type Ledger interface {
	StartRun(ctx context.Context, kind runstore.Kind, parallelism int) (string, error)
	FinishRun(ctx context.Context, runID string, exitCode int) error
	RecordAttempt(ctx context.Context, a runstore.Attempt) error
}

var _ Ledger = &runstore.Store{}

// CommandError is a helper command (e.g. the pytest collection) that
// exited non-zero. The run exits with the same code.
type CommandError struct {
	Command  string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// Runner runs test modules for one configuration.
type Runner struct {
	cfg    *config.Config
	proc   process.Runner
	ledger Ledger
	out    io.Writer
	now    func() time.Time

	runID string
}

type Op struct {
	proc   process.Runner
	ledger Ledger
	out    io.Writer
	now    func() time.Time
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) {
	for _, opt := range opts {
		opt(op)
	}
	if op.proc == nil {
		op.proc = process.NewRunner()
	}
	if op.out == nil {
		op.out = os.Stdout
	}
	if op.now == nil {
		op.now = time.Now
	}
}

// WithProcessRunner sets the runner used for pytest and rocm-smi.
func WithProcessRunner(r process.Runner) OpOption {
	return func(op *Op) {
		op.proc = r
	}
}

// WithLedger records the run and every module attempt.
func WithLedger(l Ledger) OpOption {
	return func(op *Op) {
		op.ledger = l
	}
}

// WithOutput sets where pytest output and progress are printed.
func WithOutput(w io.Writer) OpOption {
	return func(op *Op) {
		op.out = w
	}
}

func withNow(now func() time.Time) OpOption {
	return func(op *Op) {
		op.now = now
	}
}

// New creates a runner for a validated config.
func New(cfg *config.Config, opts ...OpOption) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	op := &Op{}
	op.applyOpts(opts)
	return &Runner{
		cfg:    cfg,
		proc:   op.proc,
		ledger: op.ledger,
		out:    op.out,
		now:    op.now,
	}, nil
}

// FindNumGPUs returns the number of AMD GPUs rocm-smi lists.
func (r *Runner) FindNumGPUs(ctx context.Context) (int, error) {
	return gpu.DetectAMDGPUs(ctx, r.proc)
}

// GPUCountOrDefault detects the GPUs, falling back to DefaultGPUCount.
func (r *Runner) GPUCountOrDefault(ctx context.Context) int {
	n, err := r.FindNumGPUs(ctx)
	if err != nil {
		log.Logger.Warnw("could not detect GPUs using rocm-smi, using default", "default", DefaultGPUCount, "error", err)
		return DefaultGPUCount
	}
	return n
}

func (r *Runner) startRun(ctx context.Context, kind runstore.Kind, parallelism int) {
	if r.ledger == nil {
		return
	}
	id, err := r.ledger.StartRun(ctx, kind, parallelism)
	if err != nil {
		log.Logger.Warnw("failed to record run start", "error", err)
		return
	}
	r.runID = id
	log.Logger.Infow("run started", "runID", id, "kind", kind, "parallelism", parallelism)
}

func (r *Runner) finishRun(exitCode int) {
	if r.ledger == nil || r.runID == "" {
		return
	}
	// recorded even after an interrupt cancelled the run context
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.ledger.FinishRun(ctx, r.runID, exitCode); err != nil {
		log.Logger.Warnw("failed to record run finish", "runID", r.runID, "error", err)
	}
}

func (r *Runner) recordAttempt(a runstore.Attempt) {
	if r.ledger == nil || r.runID == "" {
		return
	}
	a.RunID = r.runID
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.ledger.RecordAttempt(ctx, a); err != nil {
		log.Logger.Warnw("failed to record module attempt", "module", a.Module, "attempt", a.Attempt, "error", err)
	}
}

// RunID is the ledger id of the last started run, empty without a ledger.
func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) env(visibleDevices string) []string {
	env := process.EnvMapToList(r.cfg.Env)
	return append(env, "HIP_VISIBLE_DEVICES="+visibleDevices)
}
