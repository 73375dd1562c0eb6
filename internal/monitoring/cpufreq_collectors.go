package monitoring

import (
	"errors"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/nexus-governor/internal/cpufreq"
)

var errFrequencyUnknown = errors.New("current frequency unknown")

// RegisterCPUFreqCollectors exports the frequency and limits of every policy
// managed by host.
func RegisterCPUFreqCollectors(host *cpufreq.Host, reg prom.Registerer, logger logr.Logger) {
	logger = logger.WithName(cpufreqSubsystem)

	reg.MustRegister(
		newPerPolicyCollector(
			prom.BuildFQName(promNamespace, cpufreqSubsystem, "current_frequency_khz"),
			"Gauge of the current frequency of the policy in kHz",
			prom.GaugeValue,
			host.Policies,
			func(p *cpufreq.Policy) (uint, error) {
				if cur := p.Cur(); cur != 0 {
					return cur, nil
				}
				return 0, errFrequencyUnknown
			},
			logger.WithValues(logNameKey, "current_frequency_khz"),
		),
		newPerPolicyCollector(
			prom.BuildFQName(promNamespace, cpufreqSubsystem, "min_frequency_khz"),
			"Gauge of the lower frequency limit of the policy in kHz",
			prom.GaugeValue,
			host.Policies,
			func(p *cpufreq.Policy) (uint, error) { return p.Min(), nil },
			logger.WithValues(logNameKey, "min_frequency_khz"),
		),
		newPerPolicyCollector(
			prom.BuildFQName(promNamespace, cpufreqSubsystem, "max_frequency_khz"),
			"Gauge of the upper frequency limit of the policy in kHz",
			prom.GaugeValue,
			host.Policies,
			func(p *cpufreq.Policy) (uint, error) { return p.Max(), nil },
			logger.WithValues(logNameKey, "max_frequency_khz"),
		),
		newPerPolicyCollector(
			prom.BuildFQName(promNamespace, cpufreqSubsystem, "sampling"),
			"Gauge set to 1 while the governor samples the policy",
			prom.GaugeValue,
			host.Policies,
			func(p *cpufreq.Policy) (int, error) {
				if p.Started() {
					return 1, nil
				}
				return 0, nil
			},
			logger.WithValues(logNameKey, "sampling"),
		),
	)
}
