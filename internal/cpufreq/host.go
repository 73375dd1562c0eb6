package cpufreq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	"github.com/prometheus/procfs"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
)

const DefaultPollInterval = time.Second

var (
	ErrNoGovernor         = errors.New("no governor registered")
	ErrGovernorRegistered = errors.New("governor already registered")
)

// Options configures a Host.
type Options struct {
	SysfsRoot string
	ProcRoot  string
	// PollInterval is how often limits and hotplug state are checked.
	PollInterval time.Duration
	// Pinning runs samples on the CPU they measure.
	Pinning bool
	Clock   clock.Clock
}

// Host drives a registered governor over the cpufreq policies found in
// sysfs, writing frequencies through the userspace governor.
type Host struct {
	sysfsRoot    string
	procfs       procfs.FS
	clock        clock.Clock
	pollInterval time.Duration
	pinning      bool
	log          logr.Logger

	mu         sync.Mutex
	descriptor *governor.Descriptor
	policies   sync.Map
}

var (
	_ governor.Driver = &Host{}
	_ governor.Pinner = &Host{}
	_ manager.Runnable = &Host{}
)

func NewHost(opts Options) (*Host, error) {
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = cpuBasePath
	}
	if opts.ProcRoot == "" {
		opts.ProcRoot = procfs.DefaultMountPoint
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	fs, err := procfs.NewFS(opts.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", opts.ProcRoot, err)
	}

	return &Host{
		sysfsRoot:    opts.SysfsRoot,
		procfs:       fs,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		pinning:      opts.Pinning,
		log:          ctrl.Log.WithName("cpufreq"),
	}, nil
}

// RegisterGovernor makes d the governor of every policy the host manages.
func (h *Host) RegisterGovernor(d governor.Descriptor) error {
	if d.Name == "" || d.Governor == nil {
		return fmt.Errorf("%w: incomplete descriptor", governor.ErrRegistrationFailed)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.descriptor != nil {
		return fmt.Errorf("%w: %s", ErrGovernorRegistered, h.descriptor.Name)
	}
	h.descriptor = &d
	h.log.V(4).Info("governor registered", "governor", d.Name)

	return nil
}

// UnregisterGovernor removes the governor registered under name. It must not
// be called while the host is running.
func (h *Host) UnregisterGovernor(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.descriptor != nil && h.descriptor.Name == name {
		h.descriptor = nil
	}
}

// Start discovers the policies, hands them to the governor and polls for
// limit and hotplug changes until ctx is done. Every policy is stopped and
// exited before Start returns.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	d := h.descriptor
	h.mu.Unlock()
	if d == nil {
		return ErrNoGovernor
	}

	if err := h.discover(*d); err != nil {
		h.shutdown(*d)
		return err
	}

	ticker := h.clock.Ticker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown(*d)
			return nil
		case <-ticker.C:
			h.poll(*d)
		}
	}
}

// Policies returns the managed policies ordered by CPU.
func (h *Host) Policies() []*Policy {
	policies := make([]*Policy, 0)
	h.policies.Range(func(_, value any) bool {
		policies = append(policies, value.(*Policy))
		return true
	})
	sort.Slice(policies, func(i, j int) bool { return policies[i].cpu < policies[j].cpu })

	return policies
}

func (h *Host) discover(d governor.Descriptor) error {
	covered := map[uint]struct{}{}

	for _, cpu := range h.presentCPUs() {
		if _, ok := covered[cpu]; ok {
			continue
		}

		related, err := h.getRelatedCPUs(cpu)
		if err != nil {
			return err
		}
		for _, r := range related {
			covered[r] = struct{}{}
		}

		if err := h.setUserspaceGovernor(cpu); err != nil {
			h.log.V(5).Info("skipping cpu without cpufreq", "cpu", cpu, "error", err.Error())
			continue
		}
		minFreq, maxFreq, err := h.getCPULimits(cpu)
		if err != nil {
			return err
		}

		p := &Policy{cpu: cpu, related: related, host: h}
		p.setLimits(minFreq, maxFreq)

		if err := d.Governor(p, governor.EventPolicyInit); err != nil {
			return fmt.Errorf("failed to init policy of CPU %d: %w", cpu, err)
		}
		h.policies.Store(cpu, p)
		h.log.V(4).Info("policy discovered", "cpu", cpu, "related", related, "min", minFreq, "max", maxFreq)

		if h.Online(cpu) {
			h.start(d, p)
		}
	}

	return nil
}

func (h *Host) start(d governor.Descriptor, p *Policy) {
	if err := d.Governor(p, governor.EventStart); err != nil {
		h.log.Error(err, "unable to start policy", "cpu", p.cpu)
		return
	}
	p.started.Store(true)
}

func (h *Host) stop(d governor.Descriptor, p *Policy) {
	if err := d.Governor(p, governor.EventStop); err != nil {
		h.log.Error(err, "unable to stop policy", "cpu", p.cpu)
	}
	p.started.Store(false)
}

// poll refreshes cached limits and follows CPUs going on or offline.
func (h *Host) poll(d governor.Descriptor) {
	for _, p := range h.Policies() {
		online := h.Online(p.cpu)

		switch {
		case p.Started() && !online:
			h.log.V(4).Info("cpu went offline", "cpu", p.cpu)
			h.stop(d, p)
			continue
		case !p.Started() && online:
			h.log.V(4).Info("cpu came online", "cpu", p.cpu)
			h.start(d, p)
		}
		if !online {
			continue
		}

		minFreq, maxFreq, err := h.getCPULimits(p.cpu)
		if err != nil {
			h.log.V(5).Info("unable to read limits", "cpu", p.cpu, "error", err.Error())
			continue
		}
		if !p.setLimits(minFreq, maxFreq) {
			continue
		}

		h.log.V(4).Info("limits changed", "cpu", p.cpu, "min", minFreq, "max", maxFreq)
		if err := d.Governor(p, governor.EventLimits); err != nil {
			h.log.Error(err, "unable to apply limits", "cpu", p.cpu)
		}
	}
}

func (h *Host) shutdown(d governor.Descriptor) {
	h.log.V(5).Info("stopping all policies")

	for _, p := range h.Policies() {
		if p.Started() {
			h.stop(d, p)
		}
		if err := d.Governor(p, governor.EventPolicyExit); err != nil {
			h.log.Error(err, "unable to exit policy", "cpu", p.cpu)
		}
		h.policies.Delete(p.cpu)
	}

	h.log.V(5).Info("successfully stopped all")
}
