package host

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/rocm/jaxci/pkg/log"
)

const bytesPerGB = 1024 * 1024 * 1024

var (
	virtualMemory = mem.VirtualMemoryWithContext
	sleep         = sleepContext
)

// AvailableMemoryGB returns the memory available for new allocations, in GiB.
func AvailableMemoryGB(ctx context.Context) (float64, error) {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return 0, err
	}
	return float64(vm.Available) / bytesPerGB, nil
}

// WaitForMemory waits once for wait when less than minGB is available.
// A failed probe is logged and does not wait. Returns ctx.Err() if
// cancelled while waiting.
func WaitForMemory(ctx context.Context, minGB float64, wait time.Duration) error {
	vm, err := virtualMemory(ctx)
	if err != nil {
		log.Logger.Warnw("failed to check available memory", "error", err)
		return nil
	}
	avail := float64(vm.Available) / bytesPerGB
	if avail >= minGB {
		log.Logger.Debugw("memory check passed", "available", humanize.IBytes(vm.Available))
		return nil
	}
	log.Logger.Warnw("low available memory, waiting before next test",
		"available", humanize.IBytes(vm.Available),
		"minGB", minGB,
		"wait", wait,
	)
	return sleep(ctx, wait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
