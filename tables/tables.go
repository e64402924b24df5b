// Package tables loads and writes the on-disk state-table format. A table
// file holds one record per line with whitespace-separated columns;
// #-comment lines and blank lines are ignored. The control table columns
// are "id speedup cost", the cpu table columns "id freq cores".
package tables

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tempolab/tempo/ctrl"
)

// A ParseError reports a malformed table file.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}

// A CountMismatchError reports that the two companion table files disagree
// in length.
type CountMismatchError struct {
	ControlCount int
	CPUCount     int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf(
		"control table holds %d states but cpu table holds %d",
		e.ControlCount, e.CPUCount)
}

// DefaultControlStates returns the single no-op control state used when no
// table source is given.
func DefaultControlStates() []ctrl.ControlState {
	return []ctrl.ControlState{{ID: 0, Speedup: 1.0, Cost: 1.0}}
}

// DefaultCPUStates returns the cpu state paired with the default control
// state. It leaves the hardware untouched.
func DefaultCPUStates() []ctrl.CPUState {
	return []ctrl.CPUState{{ID: 0, Freq: 0, Cores: 0}}
}

// Load loads both companion tables. An empty path stands for "no source"
// and yields the corresponding built-in default. The two tables are loaded
// independently and must agree in length.
func Load(
	controlPath, cpuPath string,
) ([]ctrl.ControlState, []ctrl.CPUState, error) {
	control := DefaultControlStates()
	cpu := DefaultCPUStates()

	var err error

	if controlPath != "" {
		control, err = LoadControlStates(controlPath)
		if err != nil {
			return nil, nil, err
		}
	}

	if cpuPath != "" {
		cpu, err = LoadCPUStates(cpuPath)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(control) != len(cpu) {
		return nil, nil, &CountMismatchError{
			ControlCount: len(control),
			CPUCount:     len(cpu),
		}
	}

	return control, cpu, nil
}

// LoadControlStates loads a control state table from the file at path.
func LoadControlStates(path string) ([]ctrl.ControlState, error) {
	var states []ctrl.ControlState

	err := scanRecords(path, func(line int, fields []string) error {
		state, err := parseControlState(path, line, fields)
		if err != nil {
			return err
		}

		if len(states) > 0 &&
			state.Speedup < states[len(states)-1].Speedup {
			return &ParseError{
				File:   path,
				Line:   line,
				Reason: "speedup must be non-decreasing",
			}
		}

		states = append(states, state)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkUniqueIDs(path, controlIDs(states)); err != nil {
		return nil, err
	}

	return states, nil
}

// LoadCPUStates loads a cpu state table from the file at path.
func LoadCPUStates(path string) ([]ctrl.CPUState, error) {
	var states []ctrl.CPUState

	err := scanRecords(path, func(line int, fields []string) error {
		state, err := parseCPUState(path, line, fields)
		if err != nil {
			return err
		}

		states = append(states, state)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := checkUniqueIDs(path, cpuIDs(states)); err != nil {
		return nil, err
	}

	return states, nil
}

func scanRecords(
	path string,
	record func(line int, fields []string) error,
) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		err := record(line, strings.Fields(text))
		if err != nil {
			return err
		}
	}

	return scanner.Err()
}

func parseControlState(
	path string,
	line int,
	fields []string,
) (ctrl.ControlState, error) {
	if len(fields) != 3 {
		return ctrl.ControlState{}, &ParseError{
			File:   path,
			Line:   line,
			Reason: "want 3 columns: id speedup cost",
		}
	}

	id, err := parseID(fields[0])
	if err != nil {
		return ctrl.ControlState{}, &ParseError{
			File: path, Line: line, Reason: err.Error(),
		}
	}

	speedup, err := parsePositiveFloat("speedup", fields[1])
	if err != nil {
		return ctrl.ControlState{}, &ParseError{
			File: path, Line: line, Reason: err.Error(),
		}
	}

	cost, err := parsePositiveFloat("cost", fields[2])
	if err != nil {
		return ctrl.ControlState{}, &ParseError{
			File: path, Line: line, Reason: err.Error(),
		}
	}

	return ctrl.ControlState{ID: id, Speedup: speedup, Cost: cost}, nil
}

func parseCPUState(
	path string,
	line int,
	fields []string,
) (ctrl.CPUState, error) {
	if len(fields) != 3 {
		return ctrl.CPUState{}, &ParseError{
			File:   path,
			Line:   line,
			Reason: "want 3 columns: id freq cores",
		}
	}

	id, err := parseID(fields[0])
	if err != nil {
		return ctrl.CPUState{}, &ParseError{
			File: path, Line: line, Reason: err.Error(),
		}
	}

	freq, err := parseNonNegativeInt("freq", fields[1])
	if err != nil {
		return ctrl.CPUState{}, &ParseError{
			File: path, Line: line, Reason: err.Error(),
		}
	}

	cores, err := parseNonNegativeInt("cores", fields[2])
	if err != nil {
		return ctrl.CPUState{}, &ParseError{
			File: path, Line: line, Reason: err.Error(),
		}
	}

	return ctrl.CPUState{ID: id, Freq: freq, Cores: cores}, nil
}

func parseID(field string) (uint32, error) {
	id, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("id %q is not a non-negative integer", field)
	}

	return uint32(id), nil
}

func parsePositiveFloat(name, field string) (float64, error) {
	value, err := strconv.ParseFloat(field, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s %q is not a positive number", name, field)
	}

	return value, nil
}

func parseNonNegativeInt(name, field string) (int, error) {
	value, err := strconv.Atoi(field)
	if err != nil || value < 0 {
		return 0, fmt.Errorf(
			"%s %q is not a non-negative integer", name, field)
	}

	return value, nil
}

func controlIDs(states []ctrl.ControlState) []uint32 {
	ids := make([]uint32, len(states))
	for i, s := range states {
		ids[i] = s.ID
	}

	return ids
}

func cpuIDs(states []ctrl.CPUState) []uint32 {
	ids := make([]uint32, len(states))
	for i, s := range states {
		ids[i] = s.ID
	}

	return ids
}

func checkUniqueIDs(path string, ids []uint32) error {
	seen := make(map[uint32]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			return &ParseError{
				File:   path,
				Line:   0,
				Reason: fmt.Sprintf("duplicate state id %d", id),
			}
		}
		seen[id] = true
	}

	return nil
}
