package ctrl

import (
	"errors"
	"fmt"
)

// ErrMismatchedTableLength reports that the control and CPU state tables
// given at construction do not have the same length.
var ErrMismatchedTableLength = errors.New(
	"control and cpu state tables differ in length")

// ErrNoStates reports that the state tables given at construction are empty.
var ErrNoStates = errors.New("state tables must hold at least one state")

// ErrInvalidPeriod reports a decision period of zero.
var ErrInvalidPeriod = errors.New("period must be at least 1")

// ErrInvalidBufferDepth reports a sample buffer depth of zero.
var ErrInvalidBufferDepth = errors.New("buffer depth must be at least 1")

// ErrInvalidPerfGoal reports a non-positive performance goal.
var ErrInvalidPerfGoal = errors.New("performance goal must be positive")

// An InitializationError reports that controller construction failed while
// acquiring a resource, such as opening the decision log. Construction is
// atomic: when this error is returned, nothing is left open.
type InitializationError struct {
	Op  string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("controller init: %s: %v", e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// An ActuationError reports that the actuator could not carry out or confirm
// a configuration change. Actuation errors are transient: the controller
// keeps its last known state index and the control loop continues.
type ActuationError struct {
	Err error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("actuation: %v", e.Err)
}

func (e *ActuationError) Unwrap() error {
	return e.Err
}
