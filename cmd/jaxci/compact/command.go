// Package compact implements the "compact" command.
package compact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/sqlite"
)

var runCompact = sqlite.RunCompact

// Command vacuums the run ledger.
func Command(cliContext *cli.Context) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting compact command")

	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}
	if !cfg.StateEnabled() {
		return errors.New("run ledger is disabled (state_file is none)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := runCompact(ctx, cfg.StateFile); err != nil {
		return fmt.Errorf("failed to compact state file: %w", err)
	}
	fmt.Printf("%s successfully compacted state file\n", cmdcommon.CheckMark)
	return nil
}
