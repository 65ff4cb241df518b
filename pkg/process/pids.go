package process

import (
	"context"
	"fmt"
	"regexp"

	procs "github.com/shirou/gopsutil/v4/process"

	"github.com/rocm/jaxci/pkg/log"
)

// ProcessStatus is the read-only subset of
// "github.com/shirou/gopsutil/v4/process.Process" used here.
type ProcessStatus interface {
	CmdlineWithContext(ctx context.Context) (string, error)
	KillWithContext(ctx context.Context) error
}

type pidProcess struct {
	pid int32
	ProcessStatus
}

func listProcesses(ctx context.Context) ([]pidProcess, error) {
	ps, err := procs.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]pidProcess, 0, len(ps))
	for _, p := range ps {
		out = append(out, pidProcess{pid: p.Pid, ProcessStatus: p})
	}
	return out, nil
}

// KillMatching kills every process whose command line matches pattern,
// except the pids listed in skip. Returns the killed pids.
// Equivalent of `pkill -f <pattern>`.
func KillMatching(ctx context.Context, pattern string, skip ...int32) ([]int32, error) {
	return killMatching(ctx, listProcesses, pattern, skip...)
}

func killMatching(ctx context.Context, list func(context.Context) ([]pidProcess, error), pattern string, skip ...int32) ([]int32, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid process pattern %q: %w", pattern, err)
	}

	ps, err := list(ctx)
	if err != nil {
		return nil, err
	}

	skipped := make(map[int32]struct{}, len(skip))
	for _, pid := range skip {
		skipped[pid] = struct{}{}
	}

	var killed []int32
	for _, p := range ps {
		if _, ok := skipped[p.pid]; ok {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			// process may have exited in between
			continue
		}
		if !re.MatchString(cmdline) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			log.Logger.Warnw("failed to kill process", "pid", p.pid, "cmdline", cmdline, "error", err)
			continue
		}
		log.Logger.Infow("killed stray process", "pid", p.pid, "cmdline", cmdline)
		killed = append(killed, p.pid)
	}
	return killed, nil
}
