package host

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rocm/jaxci/pkg/log"
	"github.com/rocm/jaxci/pkg/process"
)

const (
	// StrayPytestPattern matches pytest processes left behind by a test.
	StrayPytestPattern = "python.*pytest"

	SharedMemoryDir     = "/dev/shm"
	SharedMemoryPattern = "*jax*"
)

var killMatching = process.KillMatching

// KillMatching kills processes whose command line matches the regex pattern,
// never selfPID.
func KillMatching(ctx context.Context, pattern string, selfPID int) ([]int32, error) {
	return killMatching(ctx, pattern, int32(selfPID))
}

// RemoveGlob deletes the entries of dir matching pattern and returns the
// removed paths. Failures are logged and skipped.
func RemoveGlob(dir string, pattern string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		log.Logger.Warnw("invalid glob pattern", "dir", dir, "pattern", pattern, "error", err)
		return nil
	}
	var removed []string
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			log.Logger.Warnw("failed to remove file", "path", m, "error", err)
			continue
		}
		removed = append(removed, m)
	}
	return removed
}

// Cleaner releases GPU state between multi-GPU tests.
type Cleaner struct {
	// ShmDir defaults to SharedMemoryDir.
	ShmDir string
	// Wait is split 5/8 after the kill and 3/8 after the shm removal.
	Wait time.Duration
}

// Cleanup kills stray pytest processes, removes jax shared memory segments
// and waits for the driver to release the devices.
func (c Cleaner) Cleanup(ctx context.Context) {
	killed, err := KillMatching(ctx, StrayPytestPattern, os.Getpid())
	if err != nil {
		log.Logger.Warnw("failed to kill stray pytest processes", "error", err)
	} else if len(killed) > 0 {
		log.Logger.Infow("killed stray pytest processes", "pids", killed)
	}

	first := c.Wait * 5 / 8
	if err := sleep(ctx, first); err != nil {
		return
	}

	dir := c.ShmDir
	if dir == "" {
		dir = SharedMemoryDir
	}
	if removed := RemoveGlob(dir, SharedMemoryPattern); len(removed) > 0 {
		log.Logger.Infow("removed shared memory files", "files", removed)
	}

	_ = sleep(ctx, c.Wait-first)
}
