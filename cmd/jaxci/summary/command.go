// Package summary implements the "summary" command.
package summary

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/pytest"
	"github.com/rocm/jaxci/pkg/report"
)

// Command prints the outcome totals, failing modules and skip categories of
// the module reports in the log directory.
func Command(cliContext *cli.Context) error {
	outputFormat, err := cmdcommon.ParseOutputFormat(cliContext.String("output-format"))
	if err != nil {
		return cmdcommon.NewJSONCommandError("invalid_output_format", err.Error(), 1)
	}
	return cmdcommon.WrapOutputError(outputFormat, "summary_failed", run(cliContext, outputFormat))
}

func run(cliContext *cli.Context, outputFormat string) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting summary command")

	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}

	reports, err := report.LoadModuleReports(cfg.LogDir)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return fmt.Errorf("%s: %w", cfg.LogDir, pytest.ErrNoTests)
	}
	sum := report.Summarize(reports)

	if outputFormat == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSONToWriter(os.Stdout, sum)
	}
	sum.RenderTable(os.Stdout)
	return nil
}
