// Package runmulti implements the "run-multi" command.
package runmulti

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/report"
	"github.com/rocm/jaxci/pkg/runner"
)

var newProcessRunner = process.NewRunner

// Command runs the multi-GPU test modules one after another.
func Command(cliContext *cli.Context) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting run-multi command")

	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}
	if err := cfg.EnsureLogDir(); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	ctx, cancel := cmdcommon.SignalContext()
	defer cancel()

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

	gpuCount := cliContext.Int("gpu-count")
	if gpuCount <= 0 {
		gpuCount = r.GPUCountOrDefault(ctx)
		fmt.Printf("Detected %d AMD GPUs\n", gpuCount)
	}

	mopts := runner.MultiOptions{
		GPUCount:       gpuCount,
		MaxGPUs:        cfg.MaxGPUsPerTest,
		Filter:         cliContext.String("test-filter"),
		ContinueOnFail: cliContext.Bool("continue-on-fail"),
		IgnoreSkipfile: cliContext.Bool("ignore-skipfile"),
	}
	sum := r.RunMulti(ctx, mopts)

	if err := report.GenerateFinal(context.WithoutCancel(ctx), proc, cfg.HTMLMerger, cfg.LogDir); err != nil {
		fmt.Printf("Warning: Could not generate final report: %v\n", err)
	} else {
		fmt.Println("Final HTML report generated")
	}
	cmdcommon.WriteMetrics(cfg)

	if mopts.ContinueOnFail {
		fmt.Println("continue on fail is set")
	}
	return cmdcommon.ExitCode(sum.ExitCode(mopts.ContinueOnFail))
}
