package abortreport

import (
	"errors"
	"fmt"
	"time"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/sentinel"
)

// Paths are the files one pytest invocation reads and writes.
type Paths struct {
	JSON     string
	HTML     string
	Sentinel string
}

// Handle checks the sentinel left by a pytest invocation and, when it shows
// a test that never finished, records that test as failed in both reports.
// The sentinel itself is left in place.
func Handle(paths Paths, stem string, now time.Time) (bool, *sentinel.Abort, error) {
	rec, err := sentinel.Read(paths.Sentinel)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("error logging abort for %s: %w", stem, err)
	}
	if !rec.Running() {
		log.Logger.Debugw("sentinel present but test finished", "file", paths.Sentinel, "status", rec.Status)
		return false, nil, nil
	}

	abort := sentinel.AbortFromRecord(rec, now)

	var errs []error
	if err := AppendJSON(paths.JSON, stem, abort); err != nil {
		errs = append(errs, err)
	}
	if err := AppendHTML(paths.HTML, stem, abort); err != nil {
		errs = append(errs, err)
	}

	log.Logger.Warnw("abort detected",
		"module", stem,
		"test", abort.TestName,
		"class", abort.TestClass,
		"duration", fmt.Sprintf("%.2fs", abort.Duration.Seconds()),
		"gpu", abort.GPUID,
	)
	return true, abort, errors.Join(errs...)
}
