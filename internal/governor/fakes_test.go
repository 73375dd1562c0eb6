package governor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

func setTestLogger() {
	log.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(opts *zap.Options) {
			opts.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
	))
}

type fakePolicy struct {
	cpu uint
	min atomic.Uint64
	max atomic.Uint64
	cur atomic.Uint64
}

func newFakePolicy(cpu, minFreq, maxFreq, cur uint) *fakePolicy {
	p := &fakePolicy{cpu: cpu}
	p.min.Store(uint64(minFreq))
	p.max.Store(uint64(maxFreq))
	p.cur.Store(uint64(cur))
	return p
}

func (p *fakePolicy) CPU() uint { return p.cpu }
func (p *fakePolicy) Min() uint { return uint(p.min.Load()) }
func (p *fakePolicy) Max() uint { return uint(p.max.Load()) }
func (p *fakePolicy) Cur() uint { return uint(p.cur.Load()) }

type targetCall struct {
	freq uint
	rel  Relation
}

// fakeDriver serves idle counters from a script and records applied targets.
type fakeDriver struct {
	mu      sync.Mutex
	table   FrequencyTable
	offline map[uint]bool
	online  int
	// idle and wall are returned in order; the last pair repeats.
	idle    []time.Duration
	wall    []time.Duration
	reads   int
	targets []targetCall
	// block, when set, is received from inside IdleTime.
	block   chan struct{}
	entered chan struct{}
	ioBusy  []bool
}

func newFakeDriver(table FrequencyTable) *fakeDriver {
	return &fakeDriver{
		table:   table,
		offline: map[uint]bool{},
		online:  1,
	}
}

func (d *fakeDriver) script(idle, wall []time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle = idle
	d.wall = wall
}

func (d *fakeDriver) FrequencyTable(uint) (FrequencyTable, error) {
	if d.table == nil {
		return nil, errors.New("no table")
	}
	return d.table, nil
}

func (d *fakeDriver) Target(policy Policy, freq uint, rel Relation) error {
	d.mu.Lock()
	d.targets = append(d.targets, targetCall{freq: freq, rel: rel})
	d.mu.Unlock()

	pos, err := d.table.Target(policy.Min(), policy.Max(), freq, rel)
	if err != nil {
		return err
	}
	if p, ok := policy.(*fakePolicy); ok {
		p.cur.Store(uint64(d.table[pos].Frequency))
	}
	return nil
}

func (d *fakeDriver) IdleTime(_ uint, ioIsBusy bool) (time.Duration, time.Duration, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.block != nil {
		<-d.block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ioBusy = append(d.ioBusy, ioIsBusy)
	if len(d.wall) == 0 {
		d.reads++
		return 0, 0, nil
	}
	i := min(d.reads, len(d.wall)-1)
	d.reads++
	return d.idle[i], d.wall[i], nil
}

func (d *fakeDriver) Online(cpu uint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.offline[cpu]
}

func (d *fakeDriver) OnlineCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online
}

func (d *fakeDriver) setOnline(cpu uint, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline[cpu] = !online
}

func (d *fakeDriver) readCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *fakeDriver) targetCalls() []targetCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]targetCall(nil), d.targets...)
}

type surfaceMock struct {
	mock.Mock
}

func (s *surfaceMock) Register(group string, attrs Attributes) error {
	return s.Called(group, attrs).Error(0)
}

func (s *surfaceMock) Unregister(group string) {
	s.Called(group)
}

type recorderMock struct {
	mock.Mock
}

func (r *recorderMock) Observe(s Sample) {
	r.Called(s)
}
