package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocm/jaxci/pkg/gpu"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/runstore"
)

// RunSingle runs the modules on `parallel` workers, each pinned to one GPU
// token for the duration of a module, and returns the run exit code.
//
// Without continueOnFail the first non-zero module exit code becomes the run
// exit code, modules not yet started are skipped and running ones finish.
// With continueOnFail the run exit code stays 0. A cancelled ctx yields
// InterruptExitCode whatever the killed modules exited with.
// Module output is printed only while no failure has been recorded.
func (r *Runner) RunSingle(ctx context.Context, modules []string, parallel int, continueOnFail bool) int {
	if parallel <= 0 {
		log.Logger.Errorw("invalid parallelism", "parallel", parallel)
		return 1
	}
	pool, err := gpu.NewPool(parallel)
	if err != nil {
		log.Logger.Errorw("failed to create gpu pool", "error", err)
		return 1
	}
	defer pool.Close()

	r.startRun(ctx, runstore.KindSingle, parallel)
	fmt.Fprintf(r.out, "Running tests with parallelism = %d\n", parallel)

	var (
		mu       sync.Mutex
		lastCode int
		skipped  int
	)
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastCode != 0
	}

	// Go blocks while parallel modules are running
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, module := range modules {
		g.Go(func() error {
			if failed() || ctx.Err() != nil {
				mu.Lock()
				skipped++
				mu.Unlock()
				metricModuleOutcomesTotal.WithLabelValues(string(runstore.KindSingle), outcomeSkipped).Inc()
				return nil
			}

			res, err := r.runOnToken(ctx, pool, module, !continueOnFail)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Logger.Errorw("failed to acquire gpu", "module", module, "error", err)
				}
				return nil
			}
			if ctx.Err() != nil {
				// killed by the interrupt, not a result of its own
				log.Logger.Warnw("module interrupted", "module", res.Module, "gpu", res.GPU)
				return nil
			}

			mu.Lock()
			if lastCode == 0 {
				fmt.Fprintf(r.out, "Running tests in module %s on GPU %d:\n", res.Module, res.GPU)
				fmt.Fprintln(r.out, string(res.Stdout))
				fmt.Fprintln(r.out, string(res.Stderr))
				if !continueOnFail {
					lastCode = res.ExitCode
				}
			}
			mu.Unlock()

			log.Logger.Infow("module finished",
				"module", res.Module,
				"gpu", res.GPU,
				"exitCode", res.ExitCode,
				"attempts", res.Attempts,
				"crashed", len(res.Crashed),
				"took", res.Duration.Round(time.Second),
			)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		lastCode = InterruptExitCode
	}
	if skipped > 0 {
		log.Logger.Warnw("modules skipped", "count", skipped, "exitCode", lastCode)
	}
	r.finishRun(lastCode)
	return lastCode
}

func (r *Runner) runOnToken(ctx context.Context, pool *gpu.Pool, module string, failFast bool) (ModuleResult, error) {
	id, err := pool.Acquire(ctx)
	if err != nil {
		return ModuleResult{}, err
	}
	metricGPUsInUse.Inc()
	defer func() {
		pool.Release(id)
		metricGPUsInUse.Dec()
	}()

	return r.runModule(ctx, module, id, failFast), nil
}
