// Package mergereports implements the "merge-reports" command.
package mergereports

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
	"github.com/rocm/jaxci/pkg/report"
)

var newProcessRunner = process.NewRunner

// Command regenerates the final compiled reports from the module reports.
func Command(cliContext *cli.Context) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting merge-reports command")

	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := report.GenerateFinal(ctx, newProcessRunner(), cfg.HTMLMerger, cfg.LogDir); err != nil {
		return err
	}
	fmt.Printf("%s wrote %s\n", cmdcommon.CheckMark, filepath.Join(cfg.LogDir, report.FinalJSONFileName))
	return nil
}
