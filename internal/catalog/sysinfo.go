package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/runtrail/pkg/command"
)

type SysInfoInput struct {
	PerCPU bool `json:"per_cpu"`
}

// HostStats is a point-in-time view of the machine a command ran on.
type HostStats struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform,omitempty"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	LogicalCPUs   int       `json:"logical_cpus"`
	CPUPercent    []float64 `json:"cpu_percent,omitempty"`
	MemTotalBytes uint64    `json:"mem_total_bytes"`
	MemUsedBytes  uint64    `json:"mem_used_bytes"`
	MemUsedPct    float64   `json:"mem_used_percent"`
}

type SysInfoOutput struct {
	StatsFile   string  `json:"stats_file"`
	LogicalCPUs int     `json:"logical_cpus"`
	MemUsedPct  float64 `json:"mem_used_percent"`
}

// SysInfo samples host statistics and writes them to host/stats.json.
func SysInfo(ctx context.Context, in SysInfoInput, c command.Control) (SysInfoOutput, error) {
	stats, err := collectHostStats(ctx, in.PerCPU)
	if err != nil {
		return SysInfoOutput{}, err
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return SysInfoOutput{}, err
	}
	written, err := c.Out.Write(ctx, command.File{Name: "host/stats.json", Data: data})
	if err != nil {
		return SysInfoOutput{}, err
	}

	if err := c.Log.Info("host stats collected", map[string]interface{}{
		"hostname":     stats.Hostname,
		"logical_cpus": stats.LogicalCPUs,
		"mem_used_pct": stats.MemUsedPct,
	}); err != nil {
		return SysInfoOutput{}, err
	}

	return SysInfoOutput{
		StatsFile:   written.Path,
		LogicalCPUs: stats.LogicalCPUs,
		MemUsedPct:  stats.MemUsedPct,
	}, nil
}

func collectHostStats(ctx context.Context, perCPU bool) (*HostStats, error) {
	stats := &HostStats{OS: runtime.GOOS}

	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Hostname = info.Hostname
		stats.Platform = info.Platform
		stats.UptimeSeconds = info.Uptime
	}

	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil || count == 0 {
		count = runtime.NumCPU()
	}
	stats.LogicalCPUs = count

	// Zero interval compares against the previous call (or boot) without blocking.
	if pct, err := cpu.PercentWithContext(ctx, 0, perCPU); err == nil {
		stats.CPUPercent = pct
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory stats: %w", err)
	}
	stats.MemTotalBytes = vm.Total
	stats.MemUsedBytes = vm.Used
	stats.MemUsedPct = vm.UsedPercent

	return stats, nil
}
