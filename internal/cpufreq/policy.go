package cpufreq

import (
	"sync/atomic"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
)

// Policy is a cpufreq policy discovered in sysfs. Limits are cached and
// refreshed by the host poll loop; the current frequency is read live.
type Policy struct {
	cpu     uint
	related []uint
	host    *Host

	min     atomic.Uint64
	max     atomic.Uint64
	started atomic.Bool
}

var _ governor.Policy = &Policy{}

func (p *Policy) CPU() uint { return p.cpu }

func (p *Policy) Min() uint { return uint(p.min.Load()) }

func (p *Policy) Max() uint { return uint(p.max.Load()) }

// Cur returns scaling_cur_freq, 0 when it cannot be read.
func (p *Policy) Cur() uint {
	freq, err := p.host.getCPUFrequency(p.cpu)
	if err != nil {
		p.host.log.V(5).Info("unable to read current frequency", "cpu", p.cpu, "error", err.Error())
		return 0
	}
	return freq
}

// Related returns the CPUs sharing the policy.
func (p *Policy) Related() []uint {
	return append([]uint(nil), p.related...)
}

// Started reports whether the governor is sampling the policy.
func (p *Policy) Started() bool {
	return p.started.Load()
}

// setLimits stores new limits and reports whether they changed.
func (p *Policy) setLimits(minFreq, maxFreq uint) bool {
	oldMin := p.min.Swap(uint64(minFreq))
	oldMax := p.max.Swap(uint64(maxFreq))
	return oldMin != uint64(minFreq) || oldMax != uint64(maxFreq)
}
