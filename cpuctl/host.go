// Package cpuctl provides file-based access to the frequency and hotplug
// knobs of a multi-core CPU through the sysfs cpufreq interface.
package cpuctl

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/cpu"
)

const defaultBasePath = "/sys/devices/system/cpu"

const (
	scalingSetSpeedFile = "cpufreq/scaling_setspeed"
	scalingCurFreqFile  = "cpufreq/scaling_cur_freq"
	onlineFile          = "online"
)

// A Host is a handle on the CPUs of one machine. All methods address CPUs
// by their zero-based logical index.
type Host struct {
	basePath string
	numCPUs  int
}

// NewHost creates a host backed by the real sysfs tree. The logical CPU
// count is taken from the OS.
func NewHost() (*Host, error) {
	numCPUs, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("counting cpus: %w", err)
	}

	return &Host{
		basePath: defaultBasePath,
		numCPUs:  numCPUs,
	}, nil
}

// NewHostWithRoot creates a host backed by the directory tree at root,
// which must mirror the sysfs cpu layout (cpu0, cpu1, ...). It exists so
// tests and simulations can run against a staged tree. The CPU count is
// taken from the cpuN directories present under root.
func NewHostWithRoot(root string) (*Host, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading cpu tree %s: %w", root, err)
	}

	numCPUs := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		if _, err := strconv.Atoi(name[3:]); err != nil {
			continue
		}
		numCPUs++
	}

	if numCPUs == 0 {
		return nil, fmt.Errorf("no cpu directories under %s", root)
	}

	return &Host{
		basePath: root,
		numCPUs:  numCPUs,
	}, nil
}

// NumCPUs returns the number of logical CPUs on the host.
func (h *Host) NumCPUs() int {
	return h.numCPUs
}

func (h *Host) cpuPath(cpuID int, file string) string {
	return filepath.Join(h.basePath, fmt.Sprint("cpu", cpuID), file)
}

// SetFrequency requests the frequency of one CPU through the userspace
// governor's setspeed knob.
func (h *Host) SetFrequency(cpuID, freq int) error {
	path := h.cpuPath(cpuID, scalingSetSpeedFile)

	err := os.WriteFile(path, []byte(strconv.Itoa(freq)), 0644)
	if err != nil {
		return fmt.Errorf("setting cpu%d frequency: %w", cpuID, err)
	}

	return nil
}

// Frequency reads the current frequency of one CPU.
func (h *Host) Frequency(cpuID int) (int, error) {
	path := h.cpuPath(cpuID, scalingCurFreqFile)

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading cpu%d frequency: %w", cpuID, err)
	}

	freq, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parsing cpu%d frequency: %w", cpuID, err)
	}

	return freq, nil
}

// SetOnline activates or deactivates one CPU. cpu0 has no online knob on
// most systems and is left untouched.
func (h *Host) SetOnline(cpuID int, online bool) error {
	if cpuID == 0 {
		return nil
	}

	value := "0"
	if online {
		value = "1"
	}

	path := h.cpuPath(cpuID, onlineFile)

	err := os.WriteFile(path, []byte(value), 0644)
	if err != nil {
		return fmt.Errorf("setting cpu%d online state: %w", cpuID, err)
	}

	return nil
}

// IsOnline reports whether one CPU is active. A missing online knob means
// the CPU cannot be deactivated and counts as online.
func (h *Host) IsOnline(cpuID int) (bool, error) {
	path := h.cpuPath(cpuID, onlineFile)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading cpu%d online state: %w", cpuID, err)
	}

	return strings.TrimSpace(string(raw)) == "1", nil
}

// OnlineCount returns the number of active CPUs.
func (h *Host) OnlineCount() (int, error) {
	count := 0

	for i := 0; i < h.numCPUs; i++ {
		online, err := h.IsOnline(i)
		if err != nil {
			return 0, err
		}
		if online {
			count++
		}
	}

	return count, nil
}
