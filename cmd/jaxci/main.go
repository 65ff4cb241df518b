package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rocm/jaxci/cmd/jaxci/command"
	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	app := command.App()
	app.Writer = stdout
	app.ErrWriter = stderr

	err := app.Run(args)
	if err == nil {
		return 0
	}

	var exitErr *cmdcommon.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	var jerr *cmdcommon.JSONCommandError
	if errors.As(err, &jerr) {
		if werr := cmdcommon.WriteJSONToWriter(stdout, jerr.Response()); werr != nil {
			fmt.Fprintf(stderr, "%s %s\n", cmdcommon.WarningSign, err)
		}
		return jerr.ExitStatus()
	}
	fmt.Fprintf(stderr, "%s %s\n", cmdcommon.WarningSign, err)
	return 1
}
