package ctrl

// EpochCtx holds the information about one completed decision epoch. It is
// handed to every registered hook after the epoch's decision has been made
// and, if needed, actuated.
type EpochCtx struct {
	// Tag is the call identifier of the call that completed the epoch.
	Tag uint64

	// MeanRate and MeanPower are the window averages the decision used.
	MeanRate  float64
	MeanPower float64

	// From and To are the state indices before and after the decision.
	// They are equal when the policy held the current state or when
	// actuation failed.
	From uint32
	To   uint32

	// Applied reports whether the actuator was invoked this epoch.
	Applied bool
}

// A Hook is a short piece of program that the controller invokes at each
// epoch boundary. Hooks observe; they must not call back into the
// controller.
type Hook interface {
	Func(ctx EpochCtx)
}

// Hookable is an object that accepts hooks.
type Hookable interface {
	AcceptHook(hook Hook)
}

// HookableBase provides hook registration and invocation for types that
// implement Hookable.
type HookableBase struct {
	hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.hooks = append(h.hooks, hook)
}

// InvokeHook triggers the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx EpochCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
