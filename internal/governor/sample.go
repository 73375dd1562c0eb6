package governor

import (
	"time"

	"github.com/AMDEPYC/nexus-governor/internal/tunables"
)

var (
	testHookAfterSample func(u *Unit)
)

// sample is the timer callback of a unit.
func (g *Governor) sample(u *Unit) {
	defer u.inflight.Done()
	if testHookAfterSample != nil {
		defer testHookAfterSample(u)
	}

	if !u.lock() {
		return
	}
	defer u.unlock()

	if u.stopped {
		return
	}

	if pinner, ok := g.driver.(Pinner); ok {
		release, err := pinner.Pin(u.id)
		if err != nil {
			g.log.V(5).Info("unable to pin sample", "cpu", u.id, "error", err.Error())
		} else {
			defer release()
		}
	}

	if g.driver.Online(u.id) {
		g.evaluate(u)
	} else {
		g.log.V(5).Info("cpu offline, skipping sample", "cpu", u.id)
	}

	g.arm(u, g.delay(u.tunables))
}

// evaluate reads the idle counters of the unit and, unless the unit was just
// started, moves its policy towards the frequency the load calls for.
// Must be called with the unit's guard held.
func (g *Governor) evaluate(u *Unit) {
	ts := u.tunables

	idle, wall, err := g.driver.IdleTime(u.id, ts.IOIsBusy())
	if err != nil {
		g.log.V(5).Info("unable to read idle time, skipping sample", "cpu", u.id, "error", err.Error())
		return
	}

	idleDelta := idle - u.prevIdle
	wallDelta := wall - u.prevWall
	u.prevIdle = idle
	u.prevWall = wall

	if u.primed {
		u.primed = false
		return
	}

	if wallDelta < idleDelta {
		return
	}

	cur := u.policy.Cur()
	polMin, polMax := u.policy.Min(), u.policy.Max()

	s := Sample{
		CPU:     u.id,
		Load:    computeLoad(idleDelta, wallDelta),
		Current: cur,
		Boosted: ts.Boosted(),
	}
	s.Target = nextFrequency(s.Load, cur, polMin, polMax, ts)

	s.Resolved, err = u.table.resolve(polMin, polMax, s.Target, cur)
	if err != nil {
		g.log.V(5).Info("unable to resolve frequency", "cpu", u.id, "error", err.Error())
		return
	}

	if s.Resolved != cur {
		if err := g.driver.Target(u.policy, s.Resolved, RelationL); err != nil {
			g.log.Error(err, "failed to apply frequency", "cpu", u.id, "frequency", s.Resolved)
		} else {
			s.Applied = true
		}
	}

	g.log.V(5).Info("sample evaluated", "cpu", u.id, "load", s.Load,
		"current", cur, "target", s.Target, "resolved", s.Resolved, "applied", s.Applied)
	if g.recorder != nil {
		g.recorder.Observe(s)
	}
}

// computeLoad returns the busy share of wall in percent.
func computeLoad(idle, wall time.Duration) uint {
	if wall <= idle {
		return 0
	}
	return uint(100 * (wall - idle) / wall)
}

// nextFrequency applies the thresholds, steps, clamps and boosts of ts to
// the current frequency. The result is not yet rounded to the table.
func nextFrequency(load, cur, polMin, polMax uint, ts *tunables.Set) uint {
	freq := cur

	if load >= uint(ts.UpLoad()) {
		freq = min(cur+uint(ts.UpStep())*StepUnit, polMax)
	} else if load <= uint(ts.DownLoad()) {
		freq = max(saturatingSub(cur, uint(ts.DownStep())*StepUnit), polMin)
	}

	if freqMin := uint(ts.FreqMin()); freq < freqMin {
		freq = max(polMin, freqMin)
	}
	if freqMax := uint(ts.FreqMax()); freq > freqMax {
		freq = min(polMax, freqMax)
	}

	if ts.Boosted() {
		freq = min(polMax, uint(ts.FreqMax()))
	}

	return freq
}

// delay converts the sampling rate to ticks. With more than one CPU online
// the delay is shortened so that wakeups of all units line up.
func (g *Governor) delay(ts *tunables.Set) time.Duration {
	ticks := max(ceilDiv(ts.SamplingInterval(), g.tick), 1)

	if g.driver.OnlineCount() > 1 {
		now := g.clock.Since(g.epoch) / g.tick
		ticks -= now % ticks
	}

	return ticks * g.tick
}

// arm schedules the next sample of u unless the unit is being stopped.
// Must be called with the guard held or before the unit is visible to Stop.
func (g *Governor) arm(u *Unit, d time.Duration) {
	if u.stopped {
		return
	}

	u.inflight.Add(1)
	u.timer = g.clock.AfterFunc(d, func() { g.sample(u) })
}
