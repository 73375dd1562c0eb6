package monitoring

import (
	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/nexus-governor/internal/pmnotify"
)

const pmListenerName = "monitoring"

// RegisterPMCollectors counts every low-power event broadcast on chain. The
// listener never blocks a transition.
func RegisterPMCollectors(chain *pmnotify.Chain, reg prom.Registerer, logger logr.Logger) pmnotify.Token {
	logger = logger.WithName(pmSubsystem)

	events := prom.NewCounterVec(prom.CounterOpts{
		Namespace: promNamespace,
		Subsystem: pmSubsystem,
		Name:      "events_total",
		Help:      "Counter of low-power events by mode and phase",
	}, []string{"mode", "phase"})
	reg.MustRegister(events)

	return chain.Register(pmListenerName, func(ev pmnotify.Event, _ any) error {
		logger.V(5).Info("low-power event", "event", ev.String())
		events.WithLabelValues(ev.Mode.String(), ev.Phase.String()).Inc()
		return nil
	})
}
