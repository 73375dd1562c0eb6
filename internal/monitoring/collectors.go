package monitoring

import (
	"fmt"
	"strconv"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "power"

	LogTopName       string = "monitoring"
	cpufreqSubsystem string = "cpufreq"
	nexusSubsystem   string = "nexus"
	pmSubsystem      string = "pm"

	logNameKey string = "name"
)

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newPerPolicyCollector is generic factory of prometheus Collectors for
// metrics bound to a cpufreq policy. Policies are listed on every scrape so
// that policies appearing or leaving are followed.
func newPerPolicyCollector[P governor.Policy, T number](metricName, metricDesc string, metricType prom.ValueType,
	policies func() []P, readFunc func(P) (T, error), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		metricName,
		metricDesc,
		[]string{"cpu"},
		nil,
	)
	log.V(4).Info("New perPolicy prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, policy := range policies() {
				log.V(5).Info("Collecting metrics for prometheus", "cpu", policy.CPU())
				val, err := readFunc(policy)
				if err != nil {
					log.V(5).Info(fmt.Sprintf("error reading metric value, err: %v", err), "cpu", policy.CPU())
					continue
				}
				ch <- prom.MustNewConstMetric(
					desc,
					metricType,
					float64(val),
					strconv.FormatUint(uint64(policy.CPU()), 10),
				)
			}
		},
	}
}

// attributeSource lists published attribute groups.
type attributeSource interface {
	Groups() []string
	Snapshot(group string) (map[string]string, error)
}

// newAttributesCollector exports every numeric attribute of every published
// group as a gauge labelled by group and key.
func newAttributesCollector(metricName, metricDesc string, source attributeSource, log logr.Logger) prom.Collector {
	desc := prom.NewDesc(
		metricName,
		metricDesc,
		[]string{"group", "key"},
		nil,
	)

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, group := range source.Groups() {
				values, err := source.Snapshot(group)
				if err != nil {
					// unregistered between listing and reading
					log.V(5).Info("unable to read group", "group", group, "error", err.Error())
					continue
				}
				for key, raw := range values {
					val, err := strconv.ParseFloat(raw, 64)
					if err != nil {
						continue
					}
					ch <- prom.MustNewConstMetric(desc, prom.GaugeValue, val, group, key)
				}
			}
		},
	}
}
