package ctrl

// ControlState is one operating point exposed to the decision policy. The
// Speedup is a throughput multiplier relative to the lowest-performance
// state, and Cost is the relative resource expenditure of running there.
// A state table is ordered non-decreasing by Speedup.
type ControlState struct {
	ID      uint32
	Speedup float64
	Cost    float64
}

// CPUState is the physical configuration that realizes the control state at
// the same table position. Freq is a clock rate in the unit understood by
// the actuator. Cores is the number of active cores.
type CPUState struct {
	ID    uint32
	Freq  int
	Cores int
}

// StatePair binds a control state to the CPU state at the same table
// position. The controller works exclusively on paired states so that the
// equal-length invariant of the two tables is established once, at pairing
// time.
type StatePair struct {
	Control ControlState
	CPU     CPUState
}

// PairStates zips a control table and a CPU table into one paired table.
// The tables must have the same positive length.
func PairStates(
	control []ControlState,
	cpu []CPUState,
) ([]StatePair, error) {
	if len(control) != len(cpu) {
		return nil, ErrMismatchedTableLength
	}

	if len(control) == 0 {
		return nil, ErrNoStates
	}

	pairs := make([]StatePair, len(control))
	for i := range control {
		pairs[i] = StatePair{Control: control[i], CPU: cpu[i]}
	}

	return pairs, nil
}
