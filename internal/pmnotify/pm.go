package pmnotify

import (
	"errors"
	"sync/atomic"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
)

// PM drives low-power transitions over a Chain.
//
// The caller runs Prepare first and must not call Enter if it fails. A failed
// Enter is rolled back internally by sending EnterFail to every listener that
// had accepted Enter. Exit is sent once the state is left.
type PM struct {
	chain       *Chain
	diagnostics [modeCount]atomic.Bool
	log         logr.Logger
}

// NewPM returns a PM broadcasting over chain.
func NewPM(chain *Chain) *PM {
	return &PM{
		chain: chain,
		log:   ctrl.Log.WithName("pmnotify"),
	}
}

// Chain returns the chain listeners register with.
func (p *PM) Chain() *Chain {
	return p.chain
}

// SetDiagnostics toggles logging of the listener that blocks a transition
// into mode.
func (p *PM) SetDiagnostics(mode Mode, on bool) {
	if mode >= 0 && mode < modeCount {
		p.diagnostics[mode].Store(on)
	}
}

// Prepare asks every listener whether mode may be entered.
func (p *PM) Prepare(mode Mode) error {
	p.chain.mu.RLock()
	defer p.chain.mu.RUnlock()

	ev := Event{Mode: mode, Phase: PhasePrepare}
	_, err := p.chain.notify(ev, -1, nil)
	if err != nil {
		p.reportFailure(ev, err)
	}

	return err
}

// Enter tells every listener mode is being entered. If a listener refuses,
// the listeners before it receive EnterFail and the refusal is returned.
func (p *PM) Enter(mode Mode) error {
	p.chain.mu.RLock()
	defer p.chain.mu.RUnlock()

	ev := Event{Mode: mode, Phase: PhaseEnter}
	called, err := p.chain.notify(ev, -1, nil)
	if err == nil {
		return nil
	}
	p.reportFailure(ev, err)

	rollback := Event{Mode: mode, Phase: PhaseEnterFail}
	if _, rerr := p.chain.notify(rollback, called-1, nil); rerr != nil {
		p.reportFailure(rollback, rerr)
	}

	return err
}

// Exit tells every listener mode has been left.
func (p *PM) Exit(mode Mode) error {
	p.chain.mu.RLock()
	defer p.chain.mu.RUnlock()

	_, err := p.chain.notify(Event{Mode: mode, Phase: PhaseExit}, -1, nil)
	return err
}

func (p *PM) reportFailure(ev Event, err error) {
	if ev.Mode < 0 || ev.Mode >= modeCount || !p.diagnostics[ev.Mode].Load() {
		return
	}

	var notifyErr *NotifyError
	if errors.As(err, &notifyErr) {
		p.log.Info("transition failed", "event", ev.String(), "listener", notifyErr.Listener,
			"position", notifyErr.Position)
	}
}
