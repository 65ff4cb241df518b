// Package process runs external tools (pytest, rocm-smi, the html merger)
// and reports their exit status and output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rocm/jaxci/pkg/log"
)

// TimeoutExitCode is reported when a command is killed by its timeout,
// matching coreutils timeout(1).
const TimeoutExitCode = 124

var ErrEmptyCommand = errors.New("no command provided")

// Spec describes one command invocation.
type Spec struct {
	Args []string
	// Env entries in KEY=VALUE form, applied on top of os.Environ().
	Env []string
	Dir string
	// Zero means no timeout beyond the context.
	Timeout time.Duration
	// Shell runs Args[0] through "bash -c".
	Shell bool
}

func (s Spec) String() string {
	if s.Shell && len(s.Args) > 0 {
		return s.Args[0]
	}
	return strings.Join(s.Args, " ")
}

// Result of a finished command.
// A non-zero ExitCode is not an error of Run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	TimedOut bool
}

// Runner defines the interface for a command runner.
type Runner interface {
	// Run blocks until the command exits, the timeout elapses or ctx is done.
	// Returns an error only if the command could not be started or waited on.
	Run(ctx context.Context, spec Spec) (Result, error)
}

var _ Runner = &execRunner{}

func NewRunner() Runner {
	return &execRunner{}
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if len(spec.Args) == 0 {
		return Result{}, ErrEmptyCommand
	}

	cctx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	args := spec.Args
	if spec.Shell {
		args = []string{"bash", "-c", spec.Args[0]}
	}

	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)

	// pytest forks workers and the plugin under test may spawn helpers,
	// so the whole group is killed on cancel, not only the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// ESRCH is expected if the group already exited
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return err
		}
		return nil
	}
	// bounds Wait if a grandchild outside the group still holds the pipes
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Logger.Debugw("starting command", "command", spec.String(), "envOverrides", spec.Env)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start command %q: %w", spec.String(), err)
	}
	waitErr := cmd.Wait()

	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if spec.Timeout > 0 && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		log.Logger.Warnw("command timed out", "command", spec.String(), "timeout", spec.Timeout)
		return res, nil
	}

	if waitErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode == -1 {
			// killed by a signal, e.g. SIGSEGV in the child or cancellation
			res.ExitCode = signalExitCode(exitErr)
		}
		log.Logger.Debugw("command exited with non-zero status", "command", spec.String(), "exitCode", res.ExitCode)
		return res, nil
	}
	return res, fmt.Errorf("failed waiting for command %q: %w", spec.String(), waitErr)
}

// signalExitCode maps a signal termination to the shell convention 128+signo.
func signalExitCode(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return 1
}

// MergeEnv returns base with overrides applied.
// Later overrides win over earlier ones and over base.
func MergeEnv(base []string, overrides []string) []string {
	idx := make(map[string]int, len(base))
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range append(append([]string{}, base...), overrides...) {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if i, found := idx[k]; found {
			out[i] = kv
			continue
		}
		idx[k] = len(out)
		out = append(out, kv)
	}
	return out
}

// EnvMapToList renders a map as KEY=VALUE sorted by key entries.
func EnvMapToList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
