// Package listmultigputests implements the "list-multi-gpu-tests" command.
package listmultigputests

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
)

// Command prints the configured multi-GPU test modules, one per line.
func Command(cliContext *cli.Context) error {
	outputFormat, err := cmdcommon.ParseOutputFormat(cliContext.String("output-format"))
	if err != nil {
		return err
	}
	if err := cmdcommon.SetupLogger(cliContext); err != nil {
		return err
	}
	cfg, err := cmdcommon.LoadConfig(cliContext)
	if err != nil {
		return err
	}

	tests := cfg.SortedMultiGPUTests(cliContext.String("test-filter"))
	if outputFormat == cmdcommon.OutputFormatJSON {
		return cmdcommon.WriteJSONToWriter(os.Stdout, tests)
	}
	for _, t := range tests {
		fmt.Println(t)
	}
	return nil
}
