// Package history implements the "history" command.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/runstore"
)

var openStore = runstore.Open

// Command lists the latest runs recorded in the run ledger, and with
// --run-id the module attempts of one run.
func Command(cliContext *cli.Context) error {
	outputFormat, err := cmdcommon.ParseOutputFormat(cliContext.String("output-format"))
	if err != nil {
		return cmdcommon.NewJSONCommandError("invalid_output_format", err.Error(), 1)
	}
	return cmdcommon.WrapOutputError(outputFormat, "history_failed", run(cliContext, outputFormat))
}

func run(cliContext *cli.Context, outputFormat string) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting history command")

	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}
	if !cfg.StateEnabled() {
		return errors.New("run ledger is disabled (state_file is none)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := openStore(ctx, cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	defer store.Close()

	if runID := cliContext.String("run-id"); runID != "" {
		attempts, err := store.Attempts(ctx, runID)
		if err != nil {
			return err
		}
		if outputFormat == cmdcommon.OutputFormatJSON {
			return cmdcommon.WriteJSONToWriter(os.Stdout, attempts)
		}
		renderAttempts(os.Stdout, attempts)
		return nil
	}

	runs, err := store.ListRuns(ctx, cliContext.Int("limit"))
	if err != nil {
		return err
	}
	if outputFormat == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSONToWriter(os.Stdout, runs)
	}
	renderRuns(os.Stdout, runs, time.Now())
	return nil
}

func renderRuns(wr io.Writer, runs []runstore.Run, now time.Time) {
	table := tablewriter.NewWriter(wr)
	table.SetHeader([]string{"Run ID", "Kind", "Started", "Took", "Exit Code", "Host", "Parallelism"})
	for _, r := range runs {
		took, code := "running", "-"
		if !r.Finished.IsZero() {
			took = r.Finished.Sub(r.Started).String()
		}
		if r.ExitCode != nil {
			code = strconv.Itoa(*r.ExitCode)
		}
		table.Append([]string{
			r.ID,
			string(r.Kind),
			humanize.RelTime(r.Started, now, "ago", "from now"),
			took,
			code,
			r.Host,
			strconv.Itoa(r.Parallelism),
		})
	}
	table.Render()
}

func renderAttempts(wr io.Writer, attempts []runstore.Attempt) {
	table := tablewriter.NewWriter(wr)
	table.SetHeader([]string{"Module", "Attempt", "GPUs", "Exit Code", "Crashed Test", "Duration"})
	table.SetAutoWrapText(false)
	for _, a := range attempts {
		table.Append([]string{
			a.Module,
			strconv.Itoa(a.Attempt),
			a.GPUs,
			strconv.Itoa(a.ExitCode),
			a.CrashedNodeID,
			a.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()
}
