package cpufreq

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/AMDEPYC/nexus-governor/internal/governor"
)

const (
	userspaceGovernor = "userspace"
	cpuBasePath       = "/sys/devices/system/cpu"
)

func (h *Host) getCPUPath(cpu uint, resource string) string {
	return filepath.Join(h.sysfsRoot, fmt.Sprintf("cpu%d", cpu), resource)
}

func (h *Host) getCPUFreqPath(cpu uint, resource string) string {
	return h.getCPUPath(cpu, filepath.Join("cpufreq", resource))
}

func (h *Host) readUint(path string) (uint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	val, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s to uint: %w", path, err)
	}

	return uint(val), nil
}

// get current governor
func (h *Host) getCurrentGovernor(cpu uint) (string, error) {
	currentGovernor, err := os.ReadFile(h.getCPUFreqPath(cpu, "scaling_governor"))
	if err != nil {
		return "", fmt.Errorf("failed to read current governor for cpu %d: %w", cpu, err)
	}
	return strings.TrimSpace(string(currentGovernor)), nil
}

func (h *Host) isUserspaceGovernor(cpu uint) (bool, error) {
	current, err := h.getCurrentGovernor(cpu)
	if err != nil {
		return false, fmt.Errorf("failed to read current governor for cpu %d: %w", cpu, err)
	}
	return current == userspaceGovernor, nil
}

// setUserspaceGovernor hands frequency control of the policy of cpu to
// scaling_setspeed.
func (h *Host) setUserspaceGovernor(cpu uint) error {
	isUserspace, err := h.isUserspaceGovernor(cpu)
	if err != nil {
		return err
	}
	if isUserspace {
		return nil
	}

	err = os.WriteFile(h.getCPUFreqPath(cpu, "scaling_governor"), []byte(userspaceGovernor), 0644)
	if err != nil {
		return fmt.Errorf("failed to set userspace governor for CPU %d: %w", cpu, err)
	}

	return nil
}

// setCPUFrequency sets the CPU frequency in kHz for the specified CPU using the userspace governor.
func (h *Host) setCPUFrequency(cpu uint, frequency uint) error {
	// check that the userspace governor is enabled
	isUserspace, err := h.isUserspaceGovernor(cpu)
	if err != nil {
		return fmt.Errorf("failed to get userspace governor for CPU %d: %w", cpu, err)
	}

	if !isUserspace {
		return fmt.Errorf("userspace governor not set for CPU %d", cpu)
	}

	scalingSetspeedPath := h.getCPUFreqPath(cpu, "scaling_setspeed")
	err = os.WriteFile(scalingSetspeedPath, []byte(strconv.FormatUint(uint64(frequency), 10)), 0644)
	if err != nil {
		return fmt.Errorf("failed to set frequency for CPU %d: %w", cpu, err)
	}

	return nil
}

// getCPUFrequency returns the CPU frequency in kHz for the specified CPU.
func (h *Host) getCPUFrequency(cpu uint) (uint, error) {
	freq, err := h.readUint(h.getCPUFreqPath(cpu, "scaling_cur_freq"))
	if err != nil {
		return 0, fmt.Errorf("failed to read current frequency for CPU %d: %w", cpu, err)
	}
	return freq, nil
}

// getCPULimits returns scaling_min_freq and scaling_max_freq of cpu in kHz.
func (h *Host) getCPULimits(cpu uint) (uint, uint, error) {
	minFreq, err := h.readUint(h.getCPUFreqPath(cpu, "scaling_min_freq"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read min frequency for CPU %d: %w", cpu, err)
	}
	maxFreq, err := h.readUint(h.getCPUFreqPath(cpu, "scaling_max_freq"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read max frequency for CPU %d: %w", cpu, err)
	}
	return minFreq, maxFreq, nil
}

// getRelatedCPUs returns the CPUs sharing the policy of cpu, cpu itself if
// the kernel does not report them.
func (h *Host) getRelatedCPUs(cpu uint) ([]uint, error) {
	data, err := os.ReadFile(h.getCPUFreqPath(cpu, "related_cpus"))
	if errors.Is(err, os.ErrNotExist) {
		return []uint{cpu}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read related cpus for CPU %d: %w", cpu, err)
	}

	return parseUintList(string(data))
}

// FrequencyTable reads scaling_available_frequencies of cpu.
func (h *Host) FrequencyTable(cpu uint) (governor.FrequencyTable, error) {
	data, err := os.ReadFile(h.getCPUFreqPath(cpu, "scaling_available_frequencies"))
	if err != nil {
		return nil, fmt.Errorf("failed to read available frequencies for CPU %d: %w", cpu, err)
	}

	freqs, err := parseUintList(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse available frequencies for CPU %d: %w", cpu, err)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("no available frequencies for CPU %d", cpu)
	}

	table := make(governor.FrequencyTable, 0, len(freqs))
	for i, f := range freqs {
		table = append(table, governor.FrequencyEntry{Index: i, Frequency: f})
	}

	return table, nil
}

// Target rounds freq against the table of the policy and writes it.
func (h *Host) Target(policy governor.Policy, freq uint, rel governor.Relation) error {
	cpu := policy.CPU()

	table, err := h.FrequencyTable(cpu)
	if err != nil {
		return err
	}
	pos, err := table.Target(policy.Min(), policy.Max(), freq, rel)
	if err != nil {
		return fmt.Errorf("failed to resolve frequency for CPU %d: %w", cpu, err)
	}

	h.log.V(5).Info("setting frequency", "cpu", cpu, "target", freq,
		"relation", rel.String(), "frequency", table[pos].Frequency)
	return h.setCPUFrequency(cpu, table[pos].Frequency)
}

// Online reports whether cpu is online. CPUs without an online switch, such
// as the boot CPU, are always online.
func (h *Host) Online(cpu uint) bool {
	data, err := os.ReadFile(h.getCPUPath(cpu, "online"))
	if errors.Is(err, os.ErrNotExist) {
		return true
	} else if err != nil {
		h.log.V(5).Info("unable to read online state", "cpu", cpu, "error", err.Error())
		return false
	}

	return strings.TrimSpace(string(data)) == "1"
}

// OnlineCount counts the online CPUs present in sysfs.
func (h *Host) OnlineCount() int {
	count := 0
	for _, cpu := range h.presentCPUs() {
		if h.Online(cpu) {
			count++
		}
	}
	return count
}

func (h *Host) presentCPUs() []uint {
	matches, _ := filepath.Glob(filepath.Join(h.sysfsRoot, "cpu[0-9]*"))

	cpus := make([]uint, 0, len(matches))
	for _, match := range matches {
		id, err := strconv.ParseUint(strings.TrimPrefix(filepath.Base(match), "cpu"), 10, 32)
		if err != nil {
			continue
		}
		cpus = append(cpus, uint(id))
	}
	sort.Slice(cpus, func(i, j int) bool { return cpus[i] < cpus[j] })

	return cpus
}

func parseUintList(s string) ([]uint, error) {
	fields := strings.Fields(s)

	list := make([]uint, 0, len(fields))
	for _, field := range fields {
		val, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, err
		}
		list = append(list, uint(val))
	}

	return list, nil
}
