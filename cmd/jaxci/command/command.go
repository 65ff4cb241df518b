// Package command builds the jaxci command line application.
package command

import (
	"github.com/urfave/cli"

	cmdcommon "github.com/rocm/jaxci/cmd/jaxci/common"
	cmdcompact "github.com/rocm/jaxci/cmd/jaxci/compact"
	cmdgpus "github.com/rocm/jaxci/cmd/jaxci/gpus"
	cmdhandleabort "github.com/rocm/jaxci/cmd/jaxci/handle-abort"
	cmdhistory "github.com/rocm/jaxci/cmd/jaxci/history"
	cmdlistmultigputests "github.com/rocm/jaxci/cmd/jaxci/list-multi-gpu-tests"
	cmdmergereports "github.com/rocm/jaxci/cmd/jaxci/merge-reports"
	cmdrunmulti "github.com/rocm/jaxci/cmd/jaxci/run-multi"
	cmdrunsingle "github.com/rocm/jaxci/cmd/jaxci/run-single"
	cmdsummary "github.com/rocm/jaxci/cmd/jaxci/summary"
	"github.com/rocm/jaxci/pkg/config"
	"github.com/rocm/jaxci/version"
)

const usage = `
# to run every single-GPU test module, one module per GPU
jaxci run-single

# to run the multi-GPU test modules one after another
jaxci run-multi --continue-on-fail

# to show what the last run skipped and why
jaxci summary
`

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func App() *cli.App {
	app := cli.NewApp()

	app.Name = "jaxci"
	app.Version = version.String()
	app.Usage = usage
	app.Description = "ROCm JAX pytest orchestrator with crash detection and recovery"

	app.Commands = []cli.Command{
		{
			Name:  "run-single",
			Usage: "collect and run the single-GPU test modules in parallel, one module per GPU",
			UsageText: `# to run on every detected GPU
jaxci run-single

# to run on 4 GPUs and keep going after failures
jaxci run-single -p 4 -c
`,
			Action: cmdrunsingle.Command,
			Flags: flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags(), []cli.Flag{
				cli.IntFlag{
					Name:  "parallel,p",
					Usage: "number of test modules run in parallel (default: number of GPUs rocm-smi lists)",
				},
				cli.BoolFlag{
					Name:  "continue-on-fail,c",
					Usage: "continue on failure (pytest without -x, exit code 0)",
				},
				cmdcommon.FlagMaxCrashRetries,
			}),
		},
		{
			Name:  "run-multi",
			Usage: "run the multi-GPU test modules sequentially",
			UsageText: `# to run every multi-GPU test on up to 8 GPUs
jaxci run-multi

# to run only the pmap tests on 4 GPUs, including the deselected tests
jaxci run-multi --gpu-count 4 --test-filter pmap -s
`,
			Action: cmdrunmulti.Command,
			Flags: flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags(), []cli.Flag{
				cli.IntFlag{
					Name:  "gpu-count",
					Usage: "number of GPUs to use (default: auto-detect, 8 if detection fails)",
				},
				cli.IntFlag{
					Name:  "max-gpus",
					Usage: "maximum GPUs per test",
					Value: config.DefaultMaxGPUsPerTest,
				},
				cli.StringFlag{
					Name:  "test-filter",
					Usage: "run only tests containing this string",
				},
				cli.BoolFlag{
					Name:  "continue-on-fail,c",
					Usage: "continue on failure",
				},
				cli.BoolFlag{
					Name:  "ignore-skipfile,s",
					Usage: "ignore the deselect list and run all multi-GPU tests",
				},
			}),
		},
		{
			Name:   "merge-reports",
			Usage:  "regenerate final_compiled_report.json and .html from the module reports",
			Action: cmdmergereports.Command,
			Flags:  flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags()),
		},
		{
			Name:  "handle-abort",
			Usage: "record the test a crashed pytest left in its sentinel file as failed",
			UsageText: `jaxci handle-abort --json logs/api_test_log.json --html logs/api_test_log.html \
  --sentinel logs/api_test_last_running.json --stem api_test
`,
			Action: cmdhandleabort.Command,
			Flags: flags(cmdcommon.LogFlags(), []cli.Flag{
				cli.StringFlag{Name: "json", Usage: "pytest-json-report file to append to"},
				cli.StringFlag{Name: "html", Usage: "pytest-html report file to append to"},
				cli.StringFlag{Name: "sentinel", Usage: "sentinel file written by the running test"},
				cli.StringFlag{Name: "stem", Usage: "module name used in the synthetic nodeid"},
			}),
		},
		{
			Name:   "summary",
			Usage:  "print outcome totals, failing modules and skip categories of the module reports",
			Action: cmdsummary.Command,
			Flags:  flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags(), []cli.Flag{cmdcommon.FlagOutputFormat}),
		},
		{
			Name:   "history",
			Usage:  "list the runs recorded in the run ledger",
			Action: cmdhistory.Command,
			Flags: flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags(), []cli.Flag{
				cli.IntFlag{
					Name:  "limit",
					Usage: "number of runs to list (0 lists all)",
					Value: 20,
				},
				cli.StringFlag{
					Name:  "run-id",
					Usage: "list the module attempts of this run",
				},
				cmdcommon.FlagOutputFormat,
			}),
		},
		{
			Name:   "gpus",
			Usage:  "print the number of AMD GPUs rocm-smi lists",
			Action: cmdgpus.Command,
			Flags:  flags(cmdcommon.LogFlags(), []cli.Flag{cmdcommon.FlagOutputFormat}),
		},
		{
			Name:   "list-multi-gpu-tests",
			Usage:  "print the configured multi-GPU test modules, one per line",
			Action: cmdlistmultigputests.Command,
			Flags: flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags(), []cli.Flag{
				cli.StringFlag{
					Name:  "test-filter",
					Usage: "list only tests containing this string",
				},
				cmdcommon.FlagOutputFormat,
			}),
		},
		{
			Name:   "compact",
			Usage:  "compact the run ledger",
			Action: cmdcompact.Command,
			Flags:  flags(cmdcommon.LogFlags(), cmdcommon.ConfigFlags()),
		},
	}

	return app
}
