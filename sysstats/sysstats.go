// Package sysstats samples CPU and memory usage of the machine running the host.
package sysstats

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mib = 1024 * 1024

// Stats is the result of get_system_stats. Memory figures are in MiB; the percentage is
// computed from the MiB values.
type Stats struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsed         uint64  `json:"memory_used"`
	MemoryTotal        uint64  `json:"memory_total"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
}

type Probe interface {
	Sample(ctx context.Context) (Stats, error)
}

type gopsutilProbe struct {
	window time.Duration
}

// NewProbe returns a probe backed by gopsutil. CPU usage is measured over a short window, so a
// sample blocks for about 200ms.
func NewProbe() Probe {
	return &gopsutilProbe{window: 200 * time.Millisecond}
}

func (p *gopsutilProbe) Sample(ctx context.Context) (Stats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("sysstats: memory: %w", err)
	}
	percents, err := cpu.PercentWithContext(ctx, p.window, false)
	if err != nil {
		return Stats{}, fmt.Errorf("sysstats: cpu: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	return FromBytes(cpuPercent, vm.Used, vm.Total), nil
}

// FromBytes builds Stats from raw byte counts.
func FromBytes(cpuPercent float64, usedBytes, totalBytes uint64) Stats {
	used := usedBytes / mib
	total := totalBytes / mib
	var percent float64
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}
	return Stats{
		CPUUsagePercent:    cpuPercent,
		MemoryUsed:         used,
		MemoryTotal:        total,
		MemoryUsagePercent: percent,
	}
}

// Static is a Probe returning fixed stats, for previews without a real host.
type Static Stats

func (s Static) Sample(context.Context) (Stats, error) {
	return Stats(s), nil
}
