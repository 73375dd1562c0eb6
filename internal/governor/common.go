package governor

import (
	"errors"
	"time"

	"golang.org/x/exp/constraints"
)

// Name is the name the governor registers under with the host framework.
const Name = "nexus"

// StepUnit is the frequency distance in kHz of one up_step/down_step.
const StepUnit uint = 108000

// DefaultTick is the scheduler granularity sampling delays are rounded to.
const DefaultTick = time.Millisecond

var (
	// ErrOutOfMemory is returned when no runtime slot can be provided for a unit.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidState is returned when a lifecycle event does not fit the
	// current state of the policy or unit.
	ErrInvalidState = errors.New("invalid state")
	// ErrRegistrationFailed is returned when the tunables could not be
	// published on the configuration surface.
	ErrRegistrationFailed = errors.New("registration failed")
)

// Relation selects how a target frequency is rounded to a table entry.
type Relation int

const (
	// RelationL picks the lowest frequency at or above the target.
	RelationL Relation = iota
	// RelationH picks the highest frequency at or below the target.
	RelationH
)

func (r Relation) String() string {
	if r == RelationH {
		return "H"
	}
	return "L"
}

// Event is a lifecycle notification sent by the host framework.
type Event int

const (
	EventPolicyInit Event = iota
	EventPolicyExit
	EventStart
	EventStop
	EventLimits
)

func (e Event) String() string {
	switch e {
	case EventPolicyInit:
		return "POLICY_INIT"
	case EventPolicyExit:
		return "POLICY_EXIT"
	case EventStart:
		return "START"
	case EventStop:
		return "STOP"
	case EventLimits:
		return "LIMITS"
	default:
		return "UNKNOWN"
	}
}

// Descriptor is what the host framework needs to drive a governor.
type Descriptor struct {
	Name     string
	Governor func(policy Policy, event Event) error
}

func saturatingSub[T constraints.Unsigned](a, b T) T {
	if a < b {
		return 0
	}
	return a - b
}

func ceilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}
