package tunables

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Defaults applied when a scaling domain is initialised.
const (
	DefaultDownLoad     uint32 = 25
	DefaultDownStep     uint32 = 2
	DefaultUpLoad       uint32 = 50
	DefaultUpStep       uint32 = 1
	DefaultSamplingRate uint32 = 25000
	DefaultIOIsBusy            = true
)

// Attribute keys as exposed through the configuration surface.
const (
	KeyDownLoad     = "down_load"
	KeyDownStep     = "down_step"
	KeyUpLoad       = "up_load"
	KeyUpStep       = "up_step"
	KeySamplingRate = "sampling_rate"
	KeyIOIsBusy     = "io_is_busy"
	KeyFreqMin      = "freq_min"
	KeyFreqMax      = "freq_max"
	KeyBoost        = "boost"
	KeyBoostPulse   = "boostpulse"
)

var (
	// ErrInvalidArgument is returned when a written value cannot be parsed.
	// The stored value is left untouched.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownAttribute is returned for keys the set does not expose.
	ErrUnknownAttribute = errors.New("unknown attribute")
)

type attribute struct {
	show  func(s *Set) uint64
	store func(s *Set, val uint64)
	// bits is the accepted width of written values, 32 when zero.
	bits int
}

var keyOrder = []string{
	KeyDownLoad,
	KeyDownStep,
	KeyUpLoad,
	KeyUpStep,
	KeySamplingRate,
	KeyIOIsBusy,
	KeyFreqMin,
	KeyFreqMax,
	KeyBoost,
	KeyBoostPulse,
}

var attributes = map[string]attribute{
	KeyDownLoad: {
		show:  func(s *Set) uint64 { return uint64(s.DownLoad()) },
		store: func(s *Set, v uint64) { s.downLoad.Store(uint32(v)) },
	},
	KeyDownStep: {
		show:  func(s *Set) uint64 { return uint64(s.DownStep()) },
		store: func(s *Set, v uint64) { s.downStep.Store(uint32(v)) },
	},
	KeyUpLoad: {
		show:  func(s *Set) uint64 { return uint64(s.UpLoad()) },
		store: func(s *Set, v uint64) { s.upLoad.Store(uint32(v)) },
	},
	KeyUpStep: {
		show:  func(s *Set) uint64 { return uint64(s.UpStep()) },
		store: func(s *Set, v uint64) { s.upStep.Store(uint32(v)) },
	},
	KeySamplingRate: {
		show:  func(s *Set) uint64 { return uint64(s.SamplingRate()) },
		store: func(s *Set, v uint64) { s.samplingRate.Store(uint32(v)) },
	},
	KeyIOIsBusy: {
		show:  func(s *Set) uint64 { return boolToUint(s.IOIsBusy()) },
		store: func(s *Set, v uint64) { s.ioIsBusy.Store(v != 0) },
	},
	KeyFreqMin: {
		show:  func(s *Set) uint64 { return uint64(s.FreqMin()) },
		store: func(s *Set, v uint64) { s.storeFreqMin(uint32(v)) },
	},
	KeyFreqMax: {
		show:  func(s *Set) uint64 { return uint64(s.FreqMax()) },
		store: func(s *Set, v uint64) { s.storeFreqMax(uint32(v)) },
	},
	KeyBoost: {
		show:  func(s *Set) uint64 { return boolToUint(s.boost.Load()) },
		store: func(s *Set, v uint64) { s.boost.Store(v != 0) },
	},
	KeyBoostPulse: {
		show:  func(s *Set) uint64 { return boolToUint(s.BoostPulseActive()) },
		store: func(s *Set, v uint64) { s.Pulse(pulseDuration(v)) },
		bits:  64,
	},
}

// Set holds the tunables of one scaling domain. Every field is its own
// atomic word: readers never see a torn value, but no consistency across
// fields is provided.
type Set struct {
	downLoad     atomic.Uint32
	downStep     atomic.Uint32
	upLoad       atomic.Uint32
	upStep       atomic.Uint32
	samplingRate atomic.Uint32
	ioIsBusy     atomic.Bool
	freqMin      atomic.Uint32
	freqMax      atomic.Uint32
	// explicitMin and explicitMax are set once freq_min or freq_max was
	// configured; only derived bounds are widened.
	explicitMin atomic.Bool
	explicitMax atomic.Bool
	boost       atomic.Bool
	// boostPulse is the end of the current pulse in microseconds on the
	// set's monotonic timeline.
	boostPulse atomic.Int64

	clock clock.Clock
	epoch time.Time
}

// New returns a Set populated with defaults; freq_min and freq_max start at
// the policy bounds in kHz.
func New(clk clock.Clock, policyMin, policyMax uint32) *Set {
	s := &Set{
		clock: clk,
		epoch: clk.Now(),
	}
	s.downLoad.Store(DefaultDownLoad)
	s.downStep.Store(DefaultDownStep)
	s.upLoad.Store(DefaultUpLoad)
	s.upStep.Store(DefaultUpStep)
	s.samplingRate.Store(DefaultSamplingRate)
	s.ioIsBusy.Store(DefaultIOIsBusy)
	s.freqMin.Store(policyMin)
	s.freqMax.Store(policyMax)

	return s
}

func (s *Set) DownLoad() uint32     { return s.downLoad.Load() }
func (s *Set) DownStep() uint32     { return s.downStep.Load() }
func (s *Set) UpLoad() uint32       { return s.upLoad.Load() }
func (s *Set) UpStep() uint32       { return s.upStep.Load() }
func (s *Set) SamplingRate() uint32 { return s.samplingRate.Load() }
func (s *Set) IOIsBusy() bool       { return s.ioIsBusy.Load() }
func (s *Set) FreqMin() uint32      { return s.freqMin.Load() }
func (s *Set) FreqMax() uint32      { return s.freqMax.Load() }

// WidenBounds extends freq_min and freq_max so that they cover
// [policyMin, policyMax]. Bounds that were configured explicitly are kept.
func (s *Set) WidenBounds(policyMin, policyMax uint32) {
	for cur := s.freqMin.Load(); !s.explicitMin.Load() && policyMin < cur; cur = s.freqMin.Load() {
		if s.freqMin.CompareAndSwap(cur, policyMin) {
			break
		}
	}
	for cur := s.freqMax.Load(); !s.explicitMax.Load() && policyMax > cur; cur = s.freqMax.Load() {
		if s.freqMax.CompareAndSwap(cur, policyMax) {
			break
		}
	}
}

func (s *Set) storeFreqMin(v uint32) {
	s.explicitMin.Store(true)
	s.freqMin.Store(v)
}

func (s *Set) storeFreqMax(v uint32) {
	s.explicitMax.Store(true)
	s.freqMax.Store(v)
}

// pulseDuration converts microseconds to a duration, saturating instead of
// overflowing.
func pulseDuration(us uint64) time.Duration {
	const maxMicros = uint64(math.MaxInt64 / int64(time.Microsecond))
	return time.Duration(min(us, maxMicros)) * time.Microsecond
}

// SamplingInterval is sampling_rate as a duration.
func (s *Set) SamplingInterval() time.Duration {
	return time.Duration(s.SamplingRate()) * time.Microsecond
}

// SetBoost turns the permanent boost on or off.
func (s *Set) SetBoost(on bool) {
	s.boost.Store(on)
}

// Pulse boosts the domain for d starting now.
func (s *Set) Pulse(d time.Duration) {
	s.boostPulse.Store(s.nowMicros() + d.Microseconds())
}

// BoostPulseActive reports whether a boost pulse has not yet expired.
func (s *Set) BoostPulseActive() bool {
	return s.nowMicros() < s.boostPulse.Load()
}

// Boosted reports whether the domain must run at its maximum frequency.
func (s *Set) Boosted() bool {
	return s.boost.Load() || s.BoostPulseActive()
}

func (s *Set) nowMicros() int64 {
	return s.clock.Since(s.epoch).Microseconds()
}

// Keys lists the attribute keys in the order they are published.
func (s *Set) Keys() []string {
	return append([]string(nil), keyOrder...)
}

// Get renders the value of key the way it is shown on the surface.
func (s *Set) Get(key string) (string, error) {
	attr, ok := attributes[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}

	return strconv.FormatUint(attr.show(s), 10), nil
}

// Set parses value as an unsigned integer (base prefixes allowed) and stores
// it under key. boostpulse takes a relative duration in microseconds.
func (s *Set) Set(key, value string) error {
	attr, ok := attributes[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}

	bits := attr.bits
	if bits == 0 {
		bits = 32
	}
	val, err := strconv.ParseUint(strings.TrimSpace(value), 0, bits)
	if err != nil {
		return fmt.Errorf("failed to parse value %q for %s: %w", value, key, errors.Join(ErrInvalidArgument, err))
	}
	attr.store(s, val)

	return nil
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
