// Package gpus implements the "gpus" command.
package gpus

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/gpu"
	"github.com/rocm/jaxci/pkg/host"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
)

var (
	newProcessRunner = process.NewRunner
	availableMemory  = host.AvailableMemoryGB
)

type output struct {
	GPUs              int       `json:"gpus"`
	AvailableMemoryGB float64   `json:"available_memory_gb"`
	Host              host.Info `json:"host"`
}

// Command prints the number of AMD GPUs rocm-smi reports.
func Command(cliContext *cli.Context) error {
	outputFormat, err := cmdcommon.ParseOutputFormat(cliContext.String("output-format"))
	if err != nil {
		return cmdcommon.NewJSONCommandError("invalid_output_format", err.Error(), 1)
	}
	return cmdcommon.WrapOutputError(outputFormat, "gpu_detection_failed", run(cliContext, outputFormat))
}

func run(cliContext *cli.Context, outputFormat string) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting gpus command")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := gpu.DetectAMDGPUs(ctx, newProcessRunner())
	if err != nil {
		return err
	}
	out := output{GPUs: n, Host: host.LoadInfo(ctx)}
	if out.AvailableMemoryGB, err = availableMemory(ctx); err != nil {
		log.Logger.Warnw("failed to read available memory", "error", err)
	}

	if outputFormat == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSONToWriter(os.Stdout, out)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_CENTER)
	table.Append([]string{"Hostname", out.Host.Hostname})
	table.Append([]string{"Kernel Version", out.Host.KernelVersion})
	table.Append([]string{"AMD GPU Count", fmt.Sprintf("%d", out.GPUs)})
	table.Append([]string{"Available Memory", fmt.Sprintf("%.1f GiB", out.AvailableMemoryGB)})
	table.Render()
	return nil
}
