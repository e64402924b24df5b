// Package ctrl implements an adaptive performance/energy controller. A
// host loop reports its measured throughput and power draw once per
// iteration; the controller smooths the samples over a bounded window and,
// once per decision period, steps through an ordered table of operating
// states to meet a performance goal at minimum cost.
package ctrl

import (
	"github.com/tempolab/tempo/cpuctl"
	"github.com/tempolab/tempo/recording"
)

// DefaultHysteresisMargin is the slack above the performance goal required
// before the controller retreats to a cheaper state. It exists to keep
// measurement noise around the goal from causing per-epoch thrashing. The
// margin is a tunable, not a derived quantity; override it with
// Builder.WithHysteresisMargin.
const DefaultHysteresisMargin = 0.05

// A Controller owns a paired state table and selects among its entries to
// keep the measured rate at the performance goal. All methods must be
// called from a single control thread; concurrent use of one Controller is
// not supported and must be serialized by the caller.
type Controller struct {
	HookableBase

	perfGoal    float64
	margin      float64
	period      uint32
	states      []StatePair
	actuator    Actuator
	recorder    recording.Recorder
	ownRecorder bool

	window        *sampleWindow
	calls         uint64
	epochs        uint64
	currentIndex  uint32
	lastMeanRate  float64
	lastMeanPower float64

	destroyed bool
}

// Status is a point-in-time snapshot of a controller.
type Status struct {
	CurrentIndex uint32
	Calls        uint64
	Epochs       uint64
	MeanRate     float64
	MeanPower    float64
}

// Builder can build a Controller.
type Builder struct {
	perfGoal    float64
	control     []ControlState
	cpu         []CPUState
	actuator    Actuator
	period      uint32
	bufferDepth uint32
	margin      float64
	logPath     string
	recorder    recording.Recorder
}

// MakeBuilder creates a builder with default parameters: a decision period
// of 20 calls, a buffer depth of 1, and the default hysteresis margin.
func MakeBuilder() Builder {
	return Builder{
		period:      20,
		bufferDepth: 1,
		margin:      DefaultHysteresisMargin,
	}
}

// WithPerfGoal sets the target rate the controller steers toward.
func (b Builder) WithPerfGoal(goal float64) Builder {
	b.perfGoal = goal
	return b
}

// WithStates sets the control and CPU state tables. The tables must have
// the same positive length and are copied into the controller at build
// time.
func (b Builder) WithStates(
	control []ControlState,
	cpu []CPUState,
) Builder {
	b.control = control
	b.cpu = cpu
	return b
}

// WithActuator sets the actuator that carries decisions onto hardware.
// When unset, the build uses the default multi-core CPU actuator.
func (b Builder) WithActuator(a Actuator) Builder {
	b.actuator = a
	return b
}

// WithPeriod sets the number of calls per decision epoch.
func (b Builder) WithPeriod(period uint32) Builder {
	b.period = period
	return b
}

// WithBufferDepth sets the number of samples retained for smoothing.
func (b Builder) WithBufferDepth(depth uint32) Builder {
	b.bufferDepth = depth
	return b
}

// WithHysteresisMargin overrides the default hysteresis margin.
func (b Builder) WithHysteresisMargin(margin float64) Builder {
	b.margin = margin
	return b
}

// WithLogFile makes the controller append one CSV decision record per
// control call to the file at path.
func (b Builder) WithLogFile(path string) Builder {
	b.logPath = path
	return b
}

// WithRecorder makes the controller record decisions through a custom
// backend. The controller does not close a recorder it did not open; the
// caller keeps ownership.
func (b Builder) WithRecorder(r recording.Recorder) Builder {
	b.recorder = r
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.logPath != "" && b.recorder != nil {
		panic("log file and custom recorder cannot both be set")
	}
}

// Build builds the controller. Construction is atomic: on error, nothing
// is left open and no partially initialized controller is returned.
func (b Builder) Build() (*Controller, error) {
	b.parametersMustBeValid()

	if b.perfGoal <= 0 {
		return nil, ErrInvalidPerfGoal
	}

	if b.period < 1 {
		return nil, ErrInvalidPeriod
	}

	if b.bufferDepth < 1 {
		return nil, ErrInvalidBufferDepth
	}

	states, err := PairStates(b.control, b.cpu)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		perfGoal: b.perfGoal,
		margin:   b.margin,
		period:   b.period,
		states:   states,
		actuator: b.actuator,
		recorder: b.recorder,
		window:   newSampleWindow(b.bufferDepth),
	}

	if c.actuator == nil {
		host, err := cpuctl.NewHost()
		if err != nil {
			return nil, &InitializationError{
				Op:  "default cpu actuator",
				Err: err,
			}
		}

		c.actuator = NewCPUActuator(host)
	}

	if b.logPath != "" {
		recorder, err := recording.NewCSVRecorder(b.logPath)
		if err != nil {
			return nil, &InitializationError{
				Op:  "open log " + b.logPath,
				Err: err,
			}
		}

		c.recorder = recorder
		c.ownRecorder = true
	}

	return c, nil
}

// ApplyControl runs one control iteration. The host calls it once per
// iteration of its own loop with a monotonically increasing tag and the
// rate and power measured over the iteration. Every period calls, the
// buffered window is averaged and a new operating state may be chosen and
// actuated. One decision record is appended per call when recording is
// enabled.
func (c *Controller) ApplyControl(
	tag uint64,
	windowRate, windowPower float64,
) {
	if c.destroyed {
		panic("ApplyControl called on a destroyed controller")
	}

	c.window.push(sample{rate: windowRate, power: windowPower})
	c.calls++

	if c.calls%uint64(c.period) == 0 {
		c.runEpoch(tag)
	}

	if c.recorder != nil {
		c.recorder.Record(recording.Entry{
			Tag:        tag,
			Rate:       windowRate,
			Power:      windowPower,
			StateIndex: c.currentIndex,
		})
	}
}

func (c *Controller) runEpoch(tag uint64) {
	meanRate, meanPower := c.window.means()
	c.lastMeanRate = meanRate
	c.lastMeanPower = meanPower
	c.epochs++

	from := c.currentIndex
	next := c.nextIndex(meanRate)

	applied := false
	if next != c.currentIndex {
		c.actuate(next)
		applied = true
	}

	c.InvokeHook(EpochCtx{
		Tag:       tag,
		MeanRate:  meanRate,
		MeanPower: meanPower,
		From:      from,
		To:        c.currentIndex,
		Applied:   applied,
	})
}

// nextIndex selects the state for the coming epoch. The policy moves a
// single table step at a time: forward when the mean rate misses the goal,
// backward when it exceeds the goal with hysteresis slack, otherwise it
// holds.
func (c *Controller) nextIndex(meanRate float64) uint32 {
	switch {
	case meanRate < c.perfGoal && int(c.currentIndex) < len(c.states)-1:
		return c.currentIndex + 1
	case meanRate > c.perfGoal*(1+c.margin) && c.currentIndex > 0:
		return c.currentIndex - 1
	default:
		return c.currentIndex
	}
}

// actuate applies the next state and reads back what the hardware actually
// settled on. The read-back is authoritative over the request; a failed
// read keeps the last known index so the loop stays live under transient
// actuation faults.
func (c *Controller) actuate(next uint32) {
	targetID := c.states[next].Control.ID
	prevID := c.states[c.currentIndex].Control.ID

	err := c.actuator.Apply(c.states, targetID, prevID)
	if err != nil {
		return
	}

	index, err := c.actuator.Current(c.states)
	if err != nil {
		return
	}

	if index >= uint32(len(c.states)) {
		// No table entry matches the active configuration exactly.
		// The request was just applied, so trust it.
		c.currentIndex = next
		return
	}

	c.currentIndex = index
}

// Status returns a snapshot of the controller. It must be called from the
// control thread; other observers attach through hooks.
func (c *Controller) Status() Status {
	return Status{
		CurrentIndex: c.currentIndex,
		Calls:        c.calls,
		Epochs:       c.epochs,
		MeanRate:     c.lastMeanRate,
		MeanPower:    c.lastMeanPower,
	}
}

// States returns a copy of the paired state table.
func (c *Controller) States() []StatePair {
	states := make([]StatePair, len(c.states))
	copy(states, c.states)

	return states
}

// Destroy tears the controller down: the decision log it opened is flushed
// and closed, and the state tables are dropped. The underlying resources
// are released exactly once; further Destroy calls are no-ops, and further
// ApplyControl calls panic.
func (c *Controller) Destroy() {
	if c.destroyed {
		return
	}

	c.destroyed = true

	if c.recorder != nil {
		c.recorder.Flush()
		if c.ownRecorder {
			c.recorder.Close()
		}
		c.recorder = nil
	}

	c.states = nil
}
