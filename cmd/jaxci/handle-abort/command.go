// Package handleabort implements the "handle-abort" command.
package handleabort

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	"github.com/rocm/jaxci/pkg/abortreport"
	"github.com/rocm/jaxci/pkg/log"
)

var now = time.Now

// Command checks one sentinel file and records the crashed test, if any,
// in the given json and html reports.
func Command(cliContext *cli.Context) error {
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	log.Logger.Debugw("starting handle-abort command")

	paths := abortreport.Paths{
		JSON:     cliContext.String("json"),
		HTML:     cliContext.String("html"),
		Sentinel: cliContext.String("sentinel"),
	}
	stem := cliContext.String("stem")
	if paths.JSON == "" || paths.HTML == "" || paths.Sentinel == "" || stem == "" {
		return errors.New("--json, --html, --sentinel and --stem are required")
	}

	handled, abort, err := abortreport.Handle(paths, stem, now())
	if !handled {
		if err != nil {
			return err
		}
		fmt.Printf("%s no aborted test found\n", cmdcommon.CheckMark)
		return nil
	}

	fmt.Printf("[ABORT DETECTED] %s: %s\n", stem, abort.TestName)
	fmt.Printf("  Test Class: %s\n", abort.TestClass)
	fmt.Printf("  Duration: %.2fs\n", abort.Duration.Seconds())
	fmt.Printf("  GPU ID: %s\n", abort.GPUID)
	if err != nil {
		return fmt.Errorf("abort recorded with errors: %w", err)
	}
	return nil
}
