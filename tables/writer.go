package tables

import (
	"fmt"
	"os"
	"strings"

	"github.com/tempolab/tempo/ctrl"
)

// WriteControlStates writes a control state table in the format that
// LoadControlStates reads back.
func WriteControlStates(path string, states []ctrl.ControlState) error {
	var b strings.Builder

	b.WriteString("#id speedup cost\n")
	for _, s := range states {
		fmt.Fprintf(&b, "%d %g %g\n", s.ID, s.Speedup, s.Cost)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}

// WriteCPUStates writes a cpu state table in the format that LoadCPUStates
// reads back.
func WriteCPUStates(path string, states []ctrl.CPUState) error {
	var b strings.Builder

	b.WriteString("#id freq cores\n")
	for _, s := range states {
		fmt.Fprintf(&b, "%d %d %d\n", s.ID, s.Freq, s.Cores)
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}
