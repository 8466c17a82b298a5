// Package health reports a point-in-time snapshot of the host the
// server runs on. Session recordings accumulate on disk indefinitely,
// so the disk figure covers the filesystem holding the data directory.
package health

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type Status struct {
	UptimeSec       uint64  `json:"uptime_sec"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemUsedPercent  float64 `json:"mem_used_percent"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
	DataDir         string  `json:"data_dir"`
	Observers       int     `json:"observers"`
}

// Snapshot collects host metrics best-effort: a probe that fails leaves
// its field zero rather than failing the whole snapshot.
func Snapshot(dataDir string) *Status {
	st := &Status{DataDir: dataDir}

	if up, err := host.Uptime(); err == nil {
		st.UptimeSec = up
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		st.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.Usage(dataDir); err == nil {
		st.DiskUsedPercent = du.UsedPercent
	}
	return st
}
