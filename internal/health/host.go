// Package health samples host resources for the readiness endpoint.
package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host is a point-in-time view of device resources.
type Host struct {
	MemTotalBytes     uint64  `json:"mem_total_bytes"`
	MemAvailableBytes uint64  `json:"mem_available_bytes"`
	MemUsedPercent    float64 `json:"mem_used_percent"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
	NumCPU            int     `json:"num_cpu"`
}

// Probe reads host resources. The sources are swappable for tests.
type Probe struct {
	memory func(context.Context) (*mem.VirtualMemoryStat, error)
	load   func(context.Context) (*load.AvgStat, error)
}

// NewProbe returns a probe backed by gopsutil.
func NewProbe() *Probe {
	return &Probe{
		memory: mem.VirtualMemoryWithContext,
		load:   load.AvgWithContext,
	}
}

// Sample collects memory and load. Load average is unavailable on some
// platforms; that is not an error, the fields stay zero.
func (p *Probe) Sample(ctx context.Context) (Host, error) {
	h := Host{NumCPU: runtime.NumCPU()}

	vm, err := p.memory(ctx)
	if err != nil {
		return h, fmt.Errorf("read memory: %w", err)
	}
	h.MemTotalBytes = vm.Total
	h.MemAvailableBytes = vm.Available
	h.MemUsedPercent = vm.UsedPercent

	if avg, err := p.load(ctx); err == nil && avg != nil {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return h, nil
}
