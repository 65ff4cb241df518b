// Package runsingle implements the "run-single" command.
package runsingle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/host"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/report"
	"github.com/rocm/jaxci/pkg/runner"
)

var newProcessRunner = process.NewRunner

// Command collects the single-GPU test modules, runs them on parallel GPU
// workers, writes the final reports and exits with the run exit code.
func Command(cliContext *cli.Context) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting run-single command")

	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}
	if err := cfg.EnsureLogDir(); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	ctx, cancel := cmdcommon.SignalContext()
	defer cancel()

	info := host.LoadInfo(ctx)
	log.Logger.Infow("host", "hostname", info.Hostname, "kernel", info.KernelVersion, "platform", info.Platform)

	continueOnFail := cliContext.Bool("continue-on-fail")
	if continueOnFail {
		fmt.Println("continue on fail is set")
	}

	proc := newProcessRunner()
	opts := []runner.OpOption{
		runner.WithProcessRunner(proc),
		runner.WithOutput(os.Stdout),
	}
	if store := cmdcommon.OpenLedger(ctx, cfg); store != nil {
		defer store.Close()
		opts = append(opts, runner.WithLedger(store))
	}
	r, err := runner.New(cfg, opts...)
	if err != nil {
		return err
	}

	parallel := cliContext.Int("parallel")
	if parallel <= 0 {
		parallel, err = r.FindNumGPUs(ctx)
		if err != nil {
			return fmt.Errorf("failed to detect GPUs (set --parallel): %w", err)
		}
		fmt.Printf("%d GPUs detected.\n", parallel)
	}

	modules, err := r.CollectModules(ctx)
	if err != nil {
		var cerr *runner.CommandError
		if errors.As(err, &cerr) {
			fmt.Printf("%s %v\n", cmdcommon.WarningSign, cerr)
			return cmdcommon.ExitCode(cerr.ExitCode)
		}
		return err
	}

	code := r.RunSingle(ctx, modules, parallel, continueOnFail)

	// reports are written after an interrupt too
	if err := report.GenerateFinal(context.WithoutCancel(ctx), proc, cfg.HTMLMerger, cfg.LogDir); err != nil {
		log.Logger.Errorw("failed to generate final report", "error", err)
	}
	cmdcommon.WriteMetrics(cfg)

	if code == 0 && !continueOnFail {
		fmt.Printf("%s all test modules passed\n", cmdcommon.CheckMark)
	}
	return cmdcommon.ExitCode(code)
}
