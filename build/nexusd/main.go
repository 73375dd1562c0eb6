/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"net/http"
	"os"

	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlMetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/AMDEPYC/nexus-governor/internal/config"
	"github.com/AMDEPYC/nexus-governor/internal/cpufreq"
	"github.com/AMDEPYC/nexus-governor/internal/governor"
	"github.com/AMDEPYC/nexus-governor/internal/monitoring"
	"github.com/AMDEPYC/nexus-governor/internal/pmnotify"
	"github.com/AMDEPYC/nexus-governor/internal/surface"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var configPath string
	var bindAddr string
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file. Defaults apply when empty.")
	flag.StringVar(&bindAddr, "bind-address", "",
		"The address the HTTP endpoints bind to. Overrides server.bind_address.")
	logOpts := zap.Options{}
	logOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(o *zap.Options) {
			o.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
		zap.UseFlagOptions(&logOpts),
	),
	)

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			setupLog.Error(err, "unable to load configuration", "path", configPath)
			os.Exit(1)
		}
	}
	if bindAddr != "" {
		cfg.Server.BindAddress = bindAddr
	}

	host, err := cpufreq.NewHost(cpufreq.Options{
		SysfsRoot:    cfg.Host.SysfsRoot,
		ProcRoot:     cfg.Host.ProcRoot,
		PollInterval: cfg.Host.PollInterval,
		Pinning:      cfg.Host.Pinning,
	})
	if err != nil {
		setupLog.Error(err, "unable to create cpufreq host")
		os.Exit(1)
	}

	monitoringLog := ctrl.Log.WithName(monitoring.LogTopName)
	registry := surface.NewRegistry()

	govOpts := cfg.GovernorOptions()
	govOpts.Recorder = monitoring.NewRecorder(ctrlMetrics.Registry, monitoringLog)
	gov := governor.New(host, registry, govOpts)
	if err := host.RegisterGovernor(gov.Descriptor()); err != nil {
		setupLog.Error(err, "unable to register governor", "governor", governor.Name)
		os.Exit(1)
	}

	monitoring.RegisterCPUFreqCollectors(host, ctrlMetrics.Registry, monitoringLog)
	monitoring.RegisterTunablesCollector(registry, ctrlMetrics.Registry, monitoringLog)

	pm := pmnotify.NewPM(pmnotify.NewChain())
	modes, err := cfg.DiagnosticModes()
	if err != nil {
		setupLog.Error(err, "invalid pm diagnostics", "diagnostics", cfg.PM.Diagnostics)
		os.Exit(1)
	}
	for _, mode := range modes {
		pm.SetDiagnostics(mode, true)
	}
	monitoring.RegisterPMCollectors(pm.Chain(), ctrlMetrics.Registry, monitoringLog)

	tunablesHandler := registry.Handler()
	pmHandler := pm.Handler()
	server, err := metricsserver.NewServer(metricsserver.Options{
		BindAddress: cfg.Server.BindAddress,
		ExtraHandlers: map[string]http.Handler{
			surface.PathPrefix:       tunablesHandler,
			surface.PathPrefix + "/": tunablesHandler,
			pmnotify.PathPrefix:       pmHandler,
			pmnotify.PathPrefix + "/": pmHandler,
		},
	}, nil, nil)
	if err != nil {
		setupLog.Error(err, "unable to create metrics server")
		os.Exit(1)
	}

	setupLog.Info("starting governor", "governor", governor.Name, "perPolicy", cfg.Governor.PerPolicy,
		"maxUnits", cfg.Governor.MaxUnits, "bindAddress", cfg.Server.BindAddress)

	g, ctx := errgroup.WithContext(ctrl.SetupSignalHandler())
	g.Go(func() error { return host.Start(ctx) })
	g.Go(func() error { return server.Start(ctx) })
	if err := g.Wait(); err != nil {
		setupLog.Error(err, "problem running governor")
		os.Exit(1)
	}
}
