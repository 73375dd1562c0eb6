package cpufreq

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// IdleTime returns the cumulative idle and wall time of cpu from /proc/stat.
// Wall time is the sum of all accounted states. I/O wait counts as idle
// unless ioIsBusy is set.
func (h *Host) IdleTime(cpu uint, ioIsBusy bool) (time.Duration, time.Duration, error) {
	stat, err := h.procfs.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cpu statistics: %w", err)
	}

	cpuStat, ok := stat.CPU[int64(cpu)]
	if !ok {
		return 0, 0, fmt.Errorf("no statistics for CPU %d", cpu)
	}

	idle, wall := idleWall(cpuStat, ioIsBusy)
	return idle, wall, nil
}

func idleWall(s procfs.CPUStat, ioIsBusy bool) (time.Duration, time.Duration) {
	busy := s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal
	idle := s.Idle
	if !ioIsBusy {
		idle += s.Iowait
	}

	return seconds(idle), seconds(busy + s.Idle + s.Iowait)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
