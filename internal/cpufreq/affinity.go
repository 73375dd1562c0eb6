package cpufreq

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and restricts that thread
// to cpu. The returned func restores the previous affinity and unlocks.
func (h *Host) Pin(cpu uint) (func(), error) {
	if !h.pinning {
		return func() {}, nil
	}

	runtime.LockOSThread()

	var previous unix.CPUSet
	if err := unix.SchedGetaffinity(0, &previous); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("failed to read affinity: %w", err)
	}

	var set unix.CPUSet
	set.Set(int(cpu))
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("failed to pin to CPU %d: %w", cpu, err)
	}

	return func() {
		if err := unix.SchedSetaffinity(0, &previous); err != nil {
			h.log.V(5).Info("unable to restore affinity", "error", err.Error())
		}
		runtime.UnlockOSThread()
	}, nil
}
