package governor

import "time"

// Policy is the host framework's view of one scaling domain. Frequencies are
// in kHz. The governor never owns a Policy.
type Policy interface {
	// CPU is the unit that samples on behalf of the policy.
	CPU() uint
	Min() uint
	Max() uint
	// Cur is the currently applied frequency, 0 if unknown.
	Cur() uint
}

// Driver bundles the host primitives the governor consumes.
type Driver interface {
	FrequencyTable(cpu uint) (FrequencyTable, error)
	// Target applies freq to the policy, rounding per rel against the table.
	Target(policy Policy, freq uint, rel Relation) error
	// IdleTime returns the cumulative idle and wall time of cpu. With
	// ioIsBusy, time spent waiting for I/O is not counted as idle.
	IdleTime(cpu uint, ioIsBusy bool) (idle, wall time.Duration, err error)
	Online(cpu uint) bool
	OnlineCount() int
}

// Pinner is implemented by drivers that can run the caller on a given CPU.
// The returned func undoes the pinning.
type Pinner interface {
	Pin(cpu uint) (release func(), err error)
}

// Attributes is a key/value view of a tunables set.
type Attributes interface {
	Keys() []string
	Get(key string) (string, error)
	Set(key, value string) error
}

// Surface publishes tunables under a group name.
type Surface interface {
	Register(group string, attrs Attributes) error
	Unregister(group string)
}

// Sample describes one evaluated decision.
type Sample struct {
	CPU      uint
	Load     uint
	Current  uint
	Target   uint
	Resolved uint
	Boosted  bool
	Applied  bool
}

// Recorder receives every evaluated decision.
type Recorder interface {
	Observe(s Sample)
}
