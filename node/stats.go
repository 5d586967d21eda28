package node

import (
	"context"

	"github.com/juju/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type Stats struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Version           string  `json:"version,omitempty"`
}

type StatsFunc func(ctx context.Context) (Stats, error)

// SystemStats reads the host's metrics.
func SystemStats(ctx context.Context) (Stats, error) {
	cpuUsage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Stats{}, errors.Annotate(err, "cpu usage")
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Stats{}, errors.Annotate(err, "memory usage")
	}
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return Stats{}, errors.Annotate(err, "uptime")
	}
	s := Stats{
		UptimeSeconds:     int64(uptime),
		MemoryUsedPercent: memInfo.UsedPercent,
	}
	if len(cpuUsage) > 0 {
		s.CPUPercent = cpuUsage[0]
	}
	return s, nil
}
