package pmnotify

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNotRegistered is returned when unregistering an unknown token.
	ErrNotRegistered = errors.New("listener not registered")
	// ErrUnknownMode is returned by ParseMode for an unsupported mode name.
	ErrUnknownMode = errors.New("unknown low-power mode")
)

// Phase is a step of a low-power transition.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseEnter
	PhaseEnterFail
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhasePrepare:
		return "PREPARE"
	case PhaseEnter:
		return "ENTER"
	case PhaseEnterFail:
		return "ENTER_FAIL"
	case PhaseExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Mode is a system-wide low-power state.
type Mode int

const (
	ModeLPA Mode = iota
	ModeLPC
	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeLPA:
		return "LPA"
	case ModeLPC:
		return "LPC"
	default:
		return "UNKNOWN"
	}
}

// ParseMode returns the mode named s, case-insensitively.
func ParseMode(s string) (Mode, error) {
	for m := Mode(0); m < modeCount; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Event is broadcast to every listener.
type Event struct {
	Mode  Mode
	Phase Phase
}

func (e Event) String() string {
	return e.Mode.String() + "_" + e.Phase.String()
}

// Callback handles an event. A non-nil error vetoes the transition and stops
// the broadcast.
type Callback func(ev Event, data any) error

// Token identifies a registration.
type Token uint64

type listener struct {
	token Token
	name  string
	call  Callback
}

// NotifyError reports the listener that stopped a broadcast.
type NotifyError struct {
	Event Event
	// Position is the registration-order index of the failing listener.
	Position int
	// Listener is the name the failing listener registered with.
	Listener string
	Err      error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("%s vetoed by listener %d (%s): %v", e.Event, e.Position, e.Listener, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// Chain is an ordered listener registry. Listeners are called in
// registration order.
type Chain struct {
	mu        sync.RWMutex
	listeners []listener
	next      Token
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register appends a listener. name is only used for diagnostics.
func (c *Chain) Register(name string, cb Callback) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	c.listeners = append(c.listeners, listener{token: c.next, name: name, call: cb})

	return c.next
}

// Unregister removes the listener registered under tok.
func (c *Chain) Unregister(tok Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, l := range c.listeners {
		if l.token == tok {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("token %d: %w", tok, ErrNotRegistered)
}

// Len returns the number of registered listeners.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners)
}

// Names returns the listener names in registration order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.listeners))
	for _, l := range c.listeners {
		names = append(names, l.name)
	}
	return names
}

// Notify calls at most limit listeners (all if limit is negative) with ev.
// called counts every listener invoked, including one that failed.
func (c *Chain) Notify(ev Event, limit int, data any) (called int, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.notify(ev, limit, data)
}

// notify must be called with the read lock held.
func (c *Chain) notify(ev Event, limit int, data any) (int, error) {
	called := 0

	for pos, l := range c.listeners {
		if limit >= 0 && called >= limit {
			break
		}

		called++
		if err := l.call(ev, data); err != nil {
			return called, &NotifyError{Event: ev, Position: pos, Listener: l.name, Err: err}
		}
	}

	return called, nil
}
