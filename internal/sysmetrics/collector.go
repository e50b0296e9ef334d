// Package sysmetrics samples host CPU and memory via gopsutil, feeding
// the maintenance pass that refreshes the local edge node's load figure.
package sysmetrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one host-load observation.
type Snapshot struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	Load1         float64   `json:"load1"`
	CPUCores      int       `json:"cpuCores"`
	Taken         time.Time `json:"taken"`
}

// Collector gathers host statistics. Individual probe failures degrade
// to zero values rather than failing the whole snapshot; maintenance
// must keep running on platforms where a probe is unsupported.
type Collector struct {
	cores int
}

// NewCollector creates a Collector.
func NewCollector() *Collector {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	return &Collector{cores: cores}
}

// Collect gathers a snapshot of current host load.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{CPUCores: c.cores, Taken: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
	}
	return snap
}

// LoadScore folds the snapshot into a single 0-100 load figure, the
// larger of CPU and memory pressure.
func (s Snapshot) LoadScore() float64 {
	if s.CPUPercent > s.MemoryPercent {
		return s.CPUPercent
	}
	return s.MemoryPercent
}
