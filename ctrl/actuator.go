package ctrl

//go:generate mockgen -destination "mock_ctrl_test.go" -package ctrl -self_package=github.com/tempolab/tempo/ctrl -write_package_comment=false github.com/tempolab/tempo/ctrl Actuator

// An Actuator carries a controller decision onto physical hardware. The
// controller calls it at most once per decision epoch, always from the
// control thread. The paired state table is shared with the actuator by
// reference and stays valid and unmoved for the controller's lifetime.
type Actuator interface {
	// Apply configures the hardware for the state whose control ID is
	// targetID. It must be deterministic and idempotent: applying the
	// same target twice yields the same physical configuration. prevID
	// is the previously applied control ID and is advisory only.
	Apply(states []StatePair, targetID, prevID uint32) error

	// Current reports the table index whose CPU state matches the active
	// physical configuration. When no entry matches exactly, it returns
	// an index >= len(states); callers treat that sentinel as "apply
	// needed", not as an error. A non-nil error marks the reading itself
	// as failed.
	Current(states []StatePair) (uint32, error)
}
