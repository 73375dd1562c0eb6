package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/AMDEPYC/nexus-governor/internal/tunables"
)

// Options configures a Governor.
type Options struct {
	// PerPolicy gives every policy its own tunables instead of one set
	// shared by all policies.
	PerPolicy bool
	// MaxUnits sizes the unit arena; CPU ids at or above it cannot start.
	MaxUnits int
	// Tick is the granularity sampling delays are expressed in.
	Tick time.Duration
	// Overrides are applied to every freshly created tunables set.
	Overrides tunables.Overrides
	Clock     clock.Clock
	Recorder  Recorder
}

type domain struct {
	tunables *tunables.Set
	group    string
	refs     int
}

// Governor implements the nexus scaling algorithm on top of a host Driver.
type Governor struct {
	driver    Driver
	surface   Surface
	recorder  Recorder
	clock     clock.Clock
	epoch     time.Time
	tick      time.Duration
	perPolicy bool
	overrides tunables.Overrides
	log       logr.Logger

	// mu guards domain allocation, unit start/stop bookkeeping and limit
	// changes. It is never held while waiting for a sample.
	mu      sync.Mutex
	shared  *domain
	domains map[uint]*domain
	units   []Unit
}

// New returns a governor that applies frequencies through driver and
// publishes tunables on surface.
func New(driver Driver, surface Surface, opts Options) *Governor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}

	return &Governor{
		driver:    driver,
		surface:   surface,
		recorder:  opts.Recorder,
		clock:     opts.Clock,
		epoch:     opts.Clock.Now(),
		tick:      opts.Tick,
		perPolicy: opts.PerPolicy,
		overrides: opts.Overrides,
		log:       ctrl.Log.WithName("governor").WithName(Name),
		domains:   make(map[uint]*domain),
		units:     make([]Unit, max(opts.MaxUnits, 0)),
	}
}

// Descriptor returns the entry point to register with the host framework.
func (g *Governor) Descriptor() Descriptor {
	return Descriptor{Name: Name, Governor: g.Handle}
}

// Handle dispatches a lifecycle event.
func (g *Governor) Handle(policy Policy, event Event) error {
	g.log.V(4).Info("handling event", "event", event.String(), "cpu", policy.CPU())

	switch event {
	case EventPolicyInit:
		return g.Init(policy)
	case EventPolicyExit:
		return g.Exit(policy)
	case EventStart:
		return g.Start(policy)
	case EventStop:
		return g.Stop(policy)
	case EventLimits:
		return g.LimitsChanged(policy)
	default:
		return fmt.Errorf("%w: unknown event %d", ErrInvalidState, int(event))
	}
}

// Tunables returns the tunables governing policy, or nil before Init.
func (g *Governor) Tunables(policy Policy) *tunables.Set {
	g.mu.Lock()
	defer g.mu.Unlock()

	if d, ok := g.domains[policy.CPU()]; ok {
		return d.tunables
	}
	return nil
}

// Init creates the tunables of the policy's domain and publishes them.
func (g *Governor) Init(policy Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cpu := policy.CPU()
	if _, ok := g.domains[cpu]; ok {
		return fmt.Errorf("%w: policy of cpu %d already initialised", ErrInvalidState, cpu)
	}

	if !g.perPolicy && g.shared != nil {
		g.shared.refs++
		g.shared.tunables.WidenBounds(uint32(policy.Min()), uint32(policy.Max()))
		g.domains[cpu] = g.shared
		g.log.V(4).Info("policy joined shared tunables", "cpu", cpu, "refs", g.shared.refs)
		return nil
	}

	ts := tunables.New(g.clock, uint32(policy.Min()), uint32(policy.Max()))
	ts.Apply(g.overrides)

	d := &domain{tunables: ts, group: g.groupName(cpu), refs: 1}
	if err := g.surface.Register(d.group, ts); err != nil {
		g.log.Error(err, "unable to publish tunables", "cpu", cpu, "group", d.group)
		return fmt.Errorf("%w: publishing tunables for cpu %d: %w", ErrRegistrationFailed, cpu, err)
	}

	if !g.perPolicy {
		g.shared = d
	}
	g.domains[cpu] = d
	g.log.V(4).Info("policy initialised", "cpu", cpu, "group", d.group)

	return nil
}

// Exit drops the policy's reference to its tunables, unpublishing them with
// the last reference. Every unit of the policy must be stopped.
func (g *Governor) Exit(policy Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cpu := policy.CPU()
	d, ok := g.domains[cpu]
	if !ok {
		return fmt.Errorf("%w: policy of cpu %d not initialised", ErrInvalidState, cpu)
	}
	if int(cpu) < len(g.units) && (g.units[cpu].running || g.units[cpu].stopping) {
		return fmt.Errorf("%w: cpu %d still started", ErrInvalidState, cpu)
	}

	delete(g.domains, cpu)
	d.refs--
	if d.refs > 0 {
		return nil
	}

	g.surface.Unregister(d.group)
	if d == g.shared {
		g.shared = nil
	}
	g.log.V(4).Info("policy exited", "cpu", cpu, "group", d.group)

	return nil
}

// Start begins periodic sampling on the policy's CPU.
func (g *Governor) Start(policy Policy) error {
	cpu := policy.CPU()
	if !g.driver.Online(cpu) || policy.Cur() == 0 {
		return fmt.Errorf("%w: cpu %d offline or without current frequency", ErrInvalidState, cpu)
	}
	if int(cpu) >= len(g.units) {
		return fmt.Errorf("%w: no runtime slot for cpu %d", ErrOutOfMemory, cpu)
	}

	g.mu.Lock()
	d, ok := g.domains[cpu]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: policy of cpu %d not initialised", ErrInvalidState, cpu)
	}
	u := &g.units[cpu]
	if u.running {
		g.mu.Unlock()
		return fmt.Errorf("%w: cpu %d already started", ErrInvalidState, cpu)
	}
	if u.stopping {
		g.mu.Unlock()
		return fmt.Errorf("%w: cpu %d is stopping", ErrInvalidState, cpu)
	}

	table, err := g.driver.FrequencyTable(cpu)
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: frequency table of cpu %d: %w", ErrInvalidState, cpu, err)
	}

	u.reset(cpu, policy, table, d.tunables)
	u.running = true
	delay := g.delay(d.tunables)
	g.mu.Unlock()

	u.lockUninterruptible()
	g.arm(u, delay)
	u.unlock()
	g.log.V(4).Info("sampling started", "cpu", cpu, "delay", delay)

	return nil
}

// Stop cancels sampling on the policy's CPU. It returns once no sample of the
// unit is running or can start anymore.
func (g *Governor) Stop(policy Policy) error {
	cpu := policy.CPU()
	if int(cpu) >= len(g.units) {
		return fmt.Errorf("%w: no runtime slot for cpu %d", ErrInvalidState, cpu)
	}
	u := &g.units[cpu]

	g.mu.Lock()
	if u.stopping {
		done := u.stopDone
		g.mu.Unlock()
		<-done
		return nil
	}
	if !u.running {
		g.mu.Unlock()
		return nil
	}
	u.running = false
	u.stopping = true
	u.stopDone = make(chan struct{})
	g.mu.Unlock()

	u.cancel()

	u.lockUninterruptible()
	u.stopped = true
	if u.timer != nil && u.timer.Stop() {
		u.inflight.Done()
	}
	u.unlock()

	u.inflight.Wait()

	g.mu.Lock()
	u.stopping = false
	close(u.stopDone)
	g.mu.Unlock()
	g.log.V(4).Info("sampling stopped", "cpu", cpu)

	return nil
}

// LimitsChanged forces the applied frequency back into the policy bounds.
func (g *Governor) LimitsChanged(policy Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := policy.Cur()

	var err error
	switch {
	case policy.Max() < cur:
		err = g.driver.Target(policy, policy.Max(), RelationH)
	case policy.Min() > cur:
		err = g.driver.Target(policy, policy.Min(), RelationL)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enforce limits on cpu %d: %w", policy.CPU(), err)
	}
	g.log.V(4).Info("limits enforced", "cpu", policy.CPU(), "min", policy.Min(), "max", policy.Max())

	return nil
}

func (g *Governor) groupName(cpu uint) string {
	if g.perPolicy {
		return fmt.Sprintf("policy%d/%s", cpu, Name)
	}
	return Name
}
