package ctrl

import (
	"fmt"

	"github.com/tempolab/tempo/cpuctl"
)

// CPUActuator is the default actuator for a generic multi-core CPU. Apply
// sets every core up to the target count to the target frequency and
// deactivates the cores beyond it. It is stateless; the physical
// configuration is always re-derived from the target state.
type CPUActuator struct {
	host *cpuctl.Host
}

// NewCPUActuator creates an actuator driving the CPUs of the given host.
func NewCPUActuator(host *cpuctl.Host) *CPUActuator {
	return &CPUActuator{host: host}
}

// Apply configures the host for the CPU state paired with targetID.
func (a *CPUActuator) Apply(
	states []StatePair,
	targetID, prevID uint32,
) error {
	target, err := findByID(states, targetID)
	if err != nil {
		return err
	}

	cores := target.CPU.Cores
	if cores > a.host.NumCPUs() {
		cores = a.host.NumCPUs()
	}

	for i := 0; i < a.host.NumCPUs(); i++ {
		if i < cores {
			if err := a.host.SetOnline(i, true); err != nil {
				return &ActuationError{Err: err}
			}
			if err := a.host.SetFrequency(i, target.CPU.Freq); err != nil {
				return &ActuationError{Err: err}
			}
			continue
		}

		if err := a.host.SetOnline(i, false); err != nil {
			return &ActuationError{Err: err}
		}
	}

	return nil
}

// Current reads the active frequency and core count back from the host and
// returns the index of the matching table entry, or len(states) when no
// entry matches exactly.
func (a *CPUActuator) Current(states []StatePair) (uint32, error) {
	freq, err := a.host.Frequency(0)
	if err != nil {
		return 0, &ActuationError{Err: err}
	}

	cores, err := a.host.OnlineCount()
	if err != nil {
		return 0, &ActuationError{Err: err}
	}

	for i, pair := range states {
		if pair.CPU.Freq == freq && pair.CPU.Cores == cores {
			return uint32(i), nil
		}
	}

	return uint32(len(states)), nil
}

func findByID(states []StatePair, id uint32) (StatePair, error) {
	for _, pair := range states {
		if pair.Control.ID == id {
			return pair, nil
		}
	}

	return StatePair{}, fmt.Errorf("no state with id %d", id)
}
