package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
	"github.com/AMDEPYC/nexus-governor/internal/pmnotify"
	"github.com/AMDEPYC/nexus-governor/internal/tunables"
)

const (
	DefaultSysfsRoot    = "/sys/devices/system/cpu"
	DefaultProcRoot     = "/proc"
	DefaultPollInterval = time.Second
	DefaultBindAddress  = ":10001"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration of the daemon.
type Config struct {
	Governor GovernorConfig `yaml:"governor"`
	Host     HostConfig     `yaml:"host"`
	Server   ServerConfig   `yaml:"server"`
	PM       PMConfig       `yaml:"pm"`
}

type GovernorConfig struct {
	// PerPolicy gives every policy its own tunables group.
	PerPolicy bool `yaml:"per_policy"`
	// MaxUnits is the number of CPUs that can be sampled. Defaults to the
	// number of CPUs of the machine.
	MaxUnits int           `yaml:"max_units"`
	Tick     time.Duration `yaml:"tick"`
	// Tunables overrides the defaults of every new tunables set.
	Tunables tunables.Overrides `yaml:"tunables"`
}

type HostConfig struct {
	SysfsRoot    string        `yaml:"sysfs_root"`
	ProcRoot     string        `yaml:"proc_root"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Pinning runs every sample on the CPU it measures.
	Pinning bool `yaml:"pinning"`
}

type ServerConfig struct {
	// BindAddress serves metrics and tunables. "0" disables the server.
	BindAddress string `yaml:"bind_address"`
}

type PMConfig struct {
	// Diagnostics lists the low-power modes whose refused transitions are
	// logged with the refusing listener.
	Diagnostics []string `yaml:"diagnostics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Governor: GovernorConfig{
			MaxUnits: runtime.NumCPU(),
			Tick:     governor.DefaultTick,
		},
		Host: HostConfig{
			SysfsRoot:    DefaultSysfsRoot,
			ProcRoot:     DefaultProcRoot,
			PollInterval: DefaultPollInterval,
		},
		Server: ServerConfig{
			BindAddress: DefaultBindAddress,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Governor.MaxUnits <= 0 {
		return fmt.Errorf("%w: governor.max_units must be positive", ErrInvalidConfig)
	}
	if c.Governor.Tick <= 0 {
		return fmt.Errorf("%w: governor.tick must be positive", ErrInvalidConfig)
	}
	if c.Host.PollInterval <= 0 {
		return fmt.Errorf("%w: host.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Host.SysfsRoot == "" || c.Host.ProcRoot == "" {
		return fmt.Errorf("%w: host.sysfs_root and host.proc_root are required", ErrInvalidConfig)
	}
	if _, err := c.DiagnosticModes(); err != nil {
		return fmt.Errorf("%w: pm.diagnostics: %w", ErrInvalidConfig, err)
	}

	return nil
}

// DiagnosticModes parses PM.Diagnostics.
func (c *Config) DiagnosticModes() ([]pmnotify.Mode, error) {
	modes := make([]pmnotify.Mode, 0, len(c.PM.Diagnostics))
	for _, name := range c.PM.Diagnostics {
		mode, err := pmnotify.ParseMode(name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, mode)
	}
	return modes, nil
}

// GovernorOptions maps the governor section onto governor.Options.
func (c *Config) GovernorOptions() governor.Options {
	return governor.Options{
		PerPolicy: c.Governor.PerPolicy,
		MaxUnits:  c.Governor.MaxUnits,
		Tick:      c.Governor.Tick,
		Overrides: c.Governor.Tunables,
	}
}
