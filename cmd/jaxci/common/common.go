// Package common holds helpers shared by the jaxci subcommands.
package common

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/rocm/jaxci/pkg/config"
	"github.com/rocm/jaxci/pkg/log"
	pkgmetrics "github.com/rocm/jaxci/pkg/metrics"
	"github.com/rocm/jaxci/pkg/runstore"
)

const (
	CheckMark   = "\033[32m✔\033[0m"
	WarningSign = "\033[31m✘\033[0m"
)

// ExitError makes the process exit with Code without being an error of the
// command itself, e.g. a failing test run.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitStatus returns the code, mapping 0 to 1 since it is an error.
func (e *ExitError) ExitStatus() int {
	if e == nil || e.Code == 0 {
		return 1
	}
	return e.Code
}

// ExitCode returns nil for 0, an *ExitError otherwise.
func ExitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

var (
	FlagLogLevel = cli.StringFlag{
		Name:  "log-level,l",
		Usage: "set the logging level [debug, info, warn, error, fatal, panic, dpanic]",
	}
	FlagLogFile = cli.StringFlag{
		Name:  "log-file",
		Usage: "write logs to this file (rotated) instead of stderr",
	}
	FlagConfig = cli.StringFlag{
		Name:  "config",
		Usage: "path to a yaml config file (default: built-in defaults)",
	}
	FlagLogDir = cli.StringFlag{
		Name:  "log-dir",
		Usage: "directory for per-module reports, sentinels and final reports (default: ./logs)",
	}
	FlagJAXDir = cli.StringFlag{
		Name:  "jax-dir",
		Usage: "jax checkout whose tests/ are run (default: ./jax)",
	}
	FlagMaxCrashRetries = cli.IntFlag{
		Name:  "max-crash-retries",
		Usage: "reruns of a module with its crashed tests deselected (default: 3, 0 disables)",
	}
	FlagStateFile = cli.StringFlag{
		Name:  "state-file",
		Usage: "sqlite run ledger (default: <log-dir>/jaxci.state, 'none' disables)",
	}
	FlagOutputFormat = cli.StringFlag{
		Name:  "output-format,o",
		Usage: "output format [plain, json]",
		Value: OutputFormatPlain,
	}
)

// LogFlags are accepted by every subcommand.
func LogFlags() []cli.Flag {
	return []cli.Flag{FlagLogLevel, FlagLogFile}
}

// ConfigFlags select and override the configuration.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{FlagConfig, FlagLogDir, FlagJAXDir, FlagStateFile}
}

// SetupLogger configures the global logger from the log flags.
func SetupLogger(cliContext *cli.Context) error {
	return log.Setup(cliContext.String("log-level"), cliContext.String("log-file"))
}

// LoadConfig loads --config (or the defaults) and applies the flags that
// were set on the command line.
func LoadConfig(cliContext *cli.Context) (*config.Config, error) {
	var opts []config.OpOption
	if cliContext.IsSet("log-dir") {
		opts = append(opts, config.WithLogDir(cliContext.String("log-dir")))
	}
	if cliContext.IsSet("jax-dir") {
		opts = append(opts, config.WithJAXDir(cliContext.String("jax-dir")))
	}
	if cliContext.IsSet("max-crash-retries") {
		opts = append(opts, config.WithMaxCrashRetries(cliContext.Int("max-crash-retries")))
	}
	if cliContext.IsSet("max-gpus") {
		opts = append(opts, config.WithMaxGPUsPerTest(cliContext.Int("max-gpus")))
	}
	if cliContext.IsSet("state-file") {
		opts = append(opts, config.WithStateFile(cliContext.String("state-file")))
	}

	cfg, err := config.LoadOrDefault(cliContext.String("config"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// OpenLedger opens the run ledger, or returns nil when it is disabled or
// cannot be opened. A run is never failed for its ledger.
func OpenLedger(ctx context.Context, cfg *config.Config) *runstore.Store {
	if !cfg.StateEnabled() {
		return nil
	}
	store, err := runstore.Open(ctx, cfg.StateFile)
	if err != nil {
		log.Logger.Warnw("failed to open run ledger, runs will not be recorded", "file", cfg.StateFile, "error", err)
		return nil
	}
	return store
}

// WriteMetrics writes the metrics textfile when enabled.
func WriteMetrics(cfg *config.Config) {
	if !cfg.MetricsEnabled() {
		return
	}
	if err := pkgmetrics.WriteTextfile(cfg.MetricsFile); err != nil {
		log.Logger.Warnw("failed to write metrics", "file", cfg.MetricsFile, "error", err)
		return
	}
	log.Logger.Infow("wrote metrics", "file", cfg.MetricsFile)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
}
