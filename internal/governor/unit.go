package governor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/AMDEPYC/nexus-governor/internal/tunables"
)

// Unit is the runtime state of one CPU under governor control. Units live in
// the governor's arena and are reinitialised on every Start.
type Unit struct {
	id       uint
	policy   Policy
	table    FrequencyTable
	tunables *tunables.Set

	prevIdle time.Duration
	prevWall time.Duration
	// primed is set on start; the first sample only records a baseline.
	primed bool

	// running, stopping and stopDone are owned by the governor's domain
	// lock. A stopping unit cannot be started; stopDone is closed once the
	// stop has drained every sample.
	running  bool
	stopping bool
	stopDone chan struct{}

	// guard serialises samples with each other and with Stop. It is a
	// one-slot semaphore so that acquisition can be interrupted.
	guard   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	timer   *clock.Timer
	// inflight counts armed timers plus running samples.
	inflight sync.WaitGroup
}

func (u *Unit) reset(id uint, policy Policy, table FrequencyTable, ts *tunables.Set) {
	u.id = id
	u.policy = policy
	u.table = table
	u.tunables = ts
	u.prevIdle = 0
	u.prevWall = 0
	u.primed = true
	u.guard = make(chan struct{}, 1)
	u.ctx, u.cancel = context.WithCancel(context.Background())
	u.stopped = false
	u.timer = nil
}

// lock takes the sample guard. It returns false when the unit is being
// stopped before the guard could be taken.
func (u *Unit) lock() bool {
	select {
	case <-u.ctx.Done():
		return false
	case u.guard <- struct{}{}:
		return true
	}
}

// lockUninterruptible takes the sample guard regardless of cancellation.
func (u *Unit) lockUninterruptible() {
	u.guard <- struct{}{}
}

func (u *Unit) unlock() {
	<-u.guard
}

// ID is the CPU the unit samples.
func (u *Unit) ID() uint {
	return u.id
}
