// Package host probes the machine the tests run on.
package host

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/rocm/jaxci/pkg/log"
)

// Info is the subset of host facts logged at the start of a run.
type Info struct {
	Hostname        string `json:"hostname"`
	KernelVersion   string `json:"kernel_version"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	BootTime        uint64 `json:"boot_time_unix_seconds"`
}

var hostInfo = host.InfoWithContext

// LoadInfo returns the host facts. Errors are logged and yield a partial Info.
func LoadInfo(ctx context.Context) Info {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := hostInfo(cctx)
	if err != nil {
		log.Logger.Warnw("failed to get host info", "error", err)
		return Info{}
	}
	return Info{
		Hostname:        st.Hostname,
		KernelVersion:   st.KernelVersion,
		Platform:        st.Platform,
		PlatformVersion: st.PlatformVersion,
		BootTime:        st.BootTime,
	}
}
