package runner

import (
	"errors"
	"fmt"
	"os"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/pytest"
)

// MergeReports folds the retry json reports into base: tests are
// concatenated, summary counters and durations summed, and the exit code is
// the first non-zero one. Merged retry files are removed. Retry files that
// cannot be read are left in place.
func MergeReports(base string, retries []string) error {
	merged, err := pytest.LoadReport(base)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	var done []string
	for _, path := range retries {
		r, err := pytest.LoadReport(path)
		if err != nil {
			log.Logger.Warnw("skipping unreadable retry report", "file", path, "error", err)
			continue
		}
		if merged == nil {
			merged = r
			done = append(done, path)
			continue
		}
		mergeInto(merged, r)
		done = append(done, path)
	}
	if merged == nil {
		return nil
	}

	if err := pytest.WriteReport(base, merged, 2); err != nil {
		return fmt.Errorf("failed to write merged report %s: %w", base, err)
	}
	for _, path := range done {
		if err := os.Remove(path); err != nil {
			log.Logger.Warnw("failed to remove merged retry report", "file", path, "error", err)
		}
	}
	log.Logger.Infow("merged retry reports", "report", base, "retries", len(done))
	return nil
}

func mergeInto(dst *pytest.Report, src *pytest.Report) {
	dst.Tests = append(dst.Tests, src.Tests...)
	for k, v := range src.Summary {
		dst.Summary.Add(k, v)
	}
	dst.Duration += src.Duration
	if dst.ExitCode == 0 {
		dst.ExitCode = src.ExitCode
	}
}
