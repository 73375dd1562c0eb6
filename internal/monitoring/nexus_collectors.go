package monitoring

import (
	"strconv"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
)

// Recorder exports every governor decision.
type Recorder struct {
	samples *prom.CounterVec
	changes *prom.CounterVec
	boosted *prom.CounterVec
	load    *prom.GaugeVec
	target  *prom.GaugeVec
	log     logr.Logger
}

var _ governor.Recorder = &Recorder{}

// NewRecorder creates the decision metrics and registers them on reg.
func NewRecorder(reg prom.Registerer, logger logr.Logger) *Recorder {
	r := &Recorder{
		samples: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: nexusSubsystem,
			Name:      "samples_total",
			Help:      "Counter of evaluated samples",
		}, []string{"cpu"}),
		changes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: nexusSubsystem,
			Name:      "frequency_changes_total",
			Help:      "Counter of samples that applied a new frequency",
		}, []string{"cpu"}),
		boosted: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: nexusSubsystem,
			Name:      "boosted_samples_total",
			Help:      "Counter of samples taken while boost or a boost pulse was active",
		}, []string{"cpu"}),
		load: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: nexusSubsystem,
			Name:      "load_percent",
			Help:      "Gauge of the load seen by the last sample",
		}, []string{"cpu"}),
		target: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: nexusSubsystem,
			Name:      "target_frequency_khz",
			Help:      "Gauge of the table frequency chosen by the last sample in kHz",
		}, []string{"cpu"}),
		log: logger.WithName(nexusSubsystem),
	}

	reg.MustRegister(r.samples, r.changes, r.boosted, r.load, r.target)
	r.log.V(4).Info("decision metrics registered")

	return r
}

func (r *Recorder) Observe(s governor.Sample) {
	cpu := strconv.FormatUint(uint64(s.CPU), 10)

	r.samples.WithLabelValues(cpu).Inc()
	if s.Applied {
		r.changes.WithLabelValues(cpu).Inc()
	}
	if s.Boosted {
		r.boosted.WithLabelValues(cpu).Inc()
	}
	r.load.WithLabelValues(cpu).Set(float64(s.Load))
	r.target.WithLabelValues(cpu).Set(float64(s.Resolved))
}

// RegisterTunablesCollector exports the published tunables of every group.
func RegisterTunablesCollector(source attributeSource, reg prom.Registerer, logger logr.Logger) {
	logger = logger.WithName(nexusSubsystem)

	reg.MustRegister(newAttributesCollector(
		prom.BuildFQName(promNamespace, nexusSubsystem, "tunable"),
		"Gauge of the value of a published tunable",
		source,
		logger.WithValues(logNameKey, "tunable"),
	))
}
