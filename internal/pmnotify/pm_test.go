package pmnotify

import (
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records which listener saw which event, in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) listener(name string, failOn ...Phase) Callback {
	return func(ev Event, _ any) error {
		j.mu.Lock()
		j.entries = append(j.entries, name+":"+ev.String())
		j.mu.Unlock()

		for _, phase := range failOn {
			if ev.Phase == phase {
				return syscall.EBUSY
			}
		}
		return nil
	}
}

func (j *journal) get() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func TestChain_NotifyInRegistrationOrder(t *testing.T) {
	j := &journal{}
	c := NewChain()
	c.Register("mfc", j.listener("mfc"))
	c.Register("decon", j.listener("decon"))
	c.Register("audio", j.listener("audio"))

	called, err := c.Notify(Event{Mode: ModeLPA, Phase: PhaseExit}, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, called)
	assert.Equal(t, []string{"mfc:LPA_EXIT", "decon:LPA_EXIT", "audio:LPA_EXIT"}, j.get())
}

func TestChain_NotifyLimit(t *testing.T) {
	j := &journal{}
	c := NewChain()
	for _, name := range []string{"a", "b", "c"} {
		c.Register(name, j.listener(name))
	}

	called, err := c.Notify(Event{Mode: ModeLPC, Phase: PhasePrepare}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, called)
	assert.Equal(t, []string{"a:LPC_PREPARE", "b:LPC_PREPARE"}, j.get())

	called, err = c.Notify(Event{Mode: ModeLPC, Phase: PhasePrepare}, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, called)
}

func TestChain_NotifyStopsAtFailure(t *testing.T) {
	j := &journal{}
	c := NewChain()
	c.Register("a", j.listener("a"))
	c.Register("b", j.listener("b", PhasePrepare))
	c.Register("c", j.listener("c"))

	called, err := c.Notify(Event{Mode: ModeLPA, Phase: PhasePrepare}, -1, nil)
	assert.Equal(t, 2, called)
	assert.ErrorIs(t, err, syscall.EBUSY)

	var notifyErr *NotifyError
	require.True(t, errors.As(err, &notifyErr))
	assert.Equal(t, 1, notifyErr.Position)
	assert.Equal(t, "b", notifyErr.Listener)
	assert.Contains(t, err.Error(), "(b)")
	assert.Equal(t, Event{Mode: ModeLPA, Phase: PhasePrepare}, notifyErr.Event)
	assert.Equal(t, []string{"a:LPA_PREPARE", "b:LPA_PREPARE"}, j.get())
}

func TestChain_Unregister(t *testing.T) {
	j := &journal{}
	c := NewChain()
	a := c.Register("a", j.listener("a"))
	b := c.Register("b", j.listener("b"))
	c.Register("c", j.listener("c"))

	require.NoError(t, c.Unregister(b))
	assert.ErrorIs(t, c.Unregister(b), ErrNotRegistered)
	assert.Equal(t, 2, c.Len())

	_, err := c.Notify(Event{Mode: ModeLPA, Phase: PhaseExit}, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:LPA_EXIT", "c:LPA_EXIT"}, j.get())

	require.NoError(t, c.Unregister(a))
	assert.Equal(t, 1, c.Len())
}

func TestPM_EnterRollsBackAcceptedListeners(t *testing.T) {
	j := &journal{}
	pm := NewPM(NewChain())
	pm.Chain().Register("a", j.listener("a"))
	pm.Chain().Register("b", j.listener("b"))
	pm.Chain().Register("c", j.listener("c", PhaseEnter))
	pm.Chain().Register("d", j.listener("d"))

	require.NoError(t, pm.Prepare(ModeLPA))
	err := pm.Enter(ModeLPA)
	assert.ErrorIs(t, err, syscall.EBUSY)

	assert.Equal(t, []string{
		"a:LPA_PREPARE", "b:LPA_PREPARE", "c:LPA_PREPARE", "d:LPA_PREPARE",
		"a:LPA_ENTER", "b:LPA_ENTER", "c:LPA_ENTER",
		"a:LPA_ENTER_FAIL", "b:LPA_ENTER_FAIL",
	}, j.get())
}

func TestPM_EnterFailOnFirstListenerRollsBackNothing(t *testing.T) {
	j := &journal{}
	pm := NewPM(NewChain())
	pm.Chain().Register("a", j.listener("a", PhaseEnter))
	pm.Chain().Register("b", j.listener("b"))

	assert.Error(t, pm.Enter(ModeLPC))
	assert.Equal(t, []string{"a:LPC_ENTER"}, j.get())
}

func TestPM_FullTransition(t *testing.T) {
	j := &journal{}
	pm := NewPM(NewChain())
	pm.Chain().Register("a", j.listener("a"))
	pm.Chain().Register("b", j.listener("b"))

	require.NoError(t, pm.Prepare(ModeLPC))
	require.NoError(t, pm.Enter(ModeLPC))
	require.NoError(t, pm.Exit(ModeLPC))

	assert.Equal(t, []string{
		"a:LPC_PREPARE", "b:LPC_PREPARE",
		"a:LPC_ENTER", "b:LPC_ENTER",
		"a:LPC_EXIT", "b:LPC_EXIT",
	}, j.get())
}

func TestPM_DiagnosticsNameFailingListener(t *testing.T) {
	var logs []string
	pm := NewPM(NewChain())
	pm.log = funcr.New(func(prefix, args string) {
		logs = append(logs, args)
	}, funcr.Options{})

	j := &journal{}
	pm.Chain().Register("decon0", j.listener("decon0"))
	pm.Chain().Register("sec-nfc", j.listener("sec-nfc", PhasePrepare))

	assert.Error(t, pm.Prepare(ModeLPA))
	assert.Empty(t, logs)

	pm.SetDiagnostics(ModeLPA, true)
	assert.Error(t, pm.Prepare(ModeLPA))
	require.Len(t, logs, 1)
	assert.True(t, strings.Contains(logs[0], `"listener"="sec-nfc"`), logs[0])
	assert.True(t, strings.Contains(logs[0], `"event"="LPA_PREPARE"`), logs[0])

	// diagnostics are per mode
	assert.Error(t, pm.Prepare(ModeLPC))
	assert.Len(t, logs, 1)
}

func TestPM_ConcurrentBroadcastAndRegistration(t *testing.T) {
	pm := NewPM(NewChain())
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				assert.NoError(t, pm.Exit(ModeLPA))
			}
		}()
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				tok := pm.Chain().Register("tmp", func(Event, any) error { return nil })
				assert.NoError(t, pm.Chain().Unregister(tok))
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, pm.Chain().Len())
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("lpc")
	require.NoError(t, err)
	assert.Equal(t, ModeLPC, mode)

	mode, err = ParseMode("LPA")
	require.NoError(t, err)
	assert.Equal(t, ModeLPA, mode)

	_, err = ParseMode("suspend")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
