package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// pidAlive reports whether pid names a process that exists and is not a
// zombie. A fully dead task is gone from the process table, so PidExists
// already rules it out.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		// Status is unsupported on some platforms; existence is enough there.
		return true
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// ProcessStats is a resource snapshot of a worker process.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
}

// processStats samples pid. It returns false when the process cannot be
// inspected, e.g. for in-process workers.
func processStats(pid int) (ProcessStats, bool) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessStats{}, false
	}
	var st ProcessStats
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		st.NumThreads = n
	}
	return st, true
}
