package ctrl

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/tempolab/tempo/recording"
)

type captureRecorder struct {
	entries []recording.Entry
	flushed int
	closed  int
}

func (r *captureRecorder) Record(entry recording.Entry) {
	r.entries = append(r.entries, entry)
}

func (r *captureRecorder) Flush() {
	r.flushed++
}

func (r *captureRecorder) Close() {
	r.closed++
}

func singleStateTables() ([]ControlState, []CPUState) {
	return []ControlState{{ID: 0, Speedup: 1.0, Cost: 1.0}},
		[]CPUState{{ID: 0, Freq: 0, Cores: 0}}
}

func threeStateTables() ([]ControlState, []CPUState) {
	control := []ControlState{
		{ID: 0, Speedup: 1.0, Cost: 1.0},
		{ID: 1, Speedup: 2.0, Cost: 2.2},
		{ID: 2, Speedup: 3.0, Cost: 3.8},
	}
	cpu := []CPUState{
		{ID: 0, Freq: 1_400_000, Cores: 2},
		{ID: 1, Freq: 1_800_000, Cores: 4},
		{ID: 2, Freq: 2_200_000, Cores: 4},
	}

	return control, cpu
}

var _ = Describe("Builder", func() {
	var (
		mockCtrl *gomock.Controller
		actuator *MockActuator
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		actuator = NewMockActuator(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should build with valid parameters", func() {
		control, cpu := threeStateTables()

		c, err := MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithActuator(actuator).
			Build()

		Expect(err).ToNot(HaveOccurred())
		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))

		c.Destroy()
	})

	It("should reject tables of different lengths", func() {
		control, _ := threeStateTables()
		_, cpu := singleStateTables()

		_, err := MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithActuator(actuator).
			Build()

		Expect(err).To(MatchError(ErrMismatchedTableLength))
	})

	It("should reject empty tables", func() {
		_, err := MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(nil, nil).
			WithActuator(actuator).
			Build()

		Expect(err).To(MatchError(ErrNoStates))
	})

	It("should reject a zero period", func() {
		control, cpu := singleStateTables()

		_, err := MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithActuator(actuator).
			WithPeriod(0).
			Build()

		Expect(err).To(MatchError(ErrInvalidPeriod))
	})

	It("should reject a zero buffer depth", func() {
		control, cpu := singleStateTables()

		_, err := MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithActuator(actuator).
			WithBufferDepth(0).
			Build()

		Expect(err).To(MatchError(ErrInvalidBufferDepth))
	})

	It("should reject a non-positive performance goal", func() {
		control, cpu := singleStateTables()

		_, err := MakeBuilder().
			WithStates(control, cpu).
			WithActuator(actuator).
			Build()

		Expect(err).To(MatchError(ErrInvalidPerfGoal))
	})

	It("should refuse a log file combined with a custom recorder", func() {
		control, cpu := singleStateTables()

		Expect(func() {
			_, _ = MakeBuilder().
				WithPerfGoal(100.0).
				WithStates(control, cpu).
				WithActuator(actuator).
				WithLogFile("decisions.csv").
				WithRecorder(&captureRecorder{}).
				Build()
		}).To(Panic())
	})
})

var _ = Describe("Controller", func() {
	var (
		mockCtrl *gomock.Controller
		actuator *MockActuator
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		actuator = NewMockActuator(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	build := func(b Builder) *Controller {
		c, err := b.WithActuator(actuator).Build()
		Expect(err).ToNot(HaveOccurred())
		return c
	}

	It("should hold a single-state table forever", func() {
		control, cpu := singleStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(20).
			WithBufferDepth(1))

		for tag := uint64(0); tag < 50; tag++ {
			c.ApplyControl(tag, 1.0, 1.0)
		}

		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))
		Expect(c.Status().Calls).To(Equal(uint64(50)))
		Expect(c.Status().Epochs).To(Equal(uint64(2)))

		c.Destroy()
	})

	It("should advance one step per epoch when the rate misses the goal",
		func() {
			control, cpu := threeStateTables()
			c := build(MakeBuilder().
				WithPerfGoal(100.0).
				WithStates(control, cpu).
				WithPeriod(2).
				WithBufferDepth(2))

			apply1 := actuator.EXPECT().
				Apply(gomock.Any(), uint32(1), uint32(0)).
				Return(nil)
			current1 := actuator.EXPECT().
				Current(gomock.Any()).
				Return(uint32(1), nil).
				After(apply1)
			apply2 := actuator.EXPECT().
				Apply(gomock.Any(), uint32(2), uint32(1)).
				Return(nil).
				After(current1)
			actuator.EXPECT().
				Current(gomock.Any()).
				Return(uint32(2), nil).
				After(apply2)

			c.ApplyControl(0, 10.0, 1.0)
			c.ApplyControl(1, 10.0, 1.0)
			Expect(c.Status().CurrentIndex).To(Equal(uint32(1)))

			c.ApplyControl(2, 10.0, 1.0)
			c.ApplyControl(3, 10.0, 1.0)
			Expect(c.Status().CurrentIndex).To(Equal(uint32(2)))

			c.Destroy()
		})

	It("should retreat when the rate exceeds the goal with slack", func() {
		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(1).
			WithBufferDepth(1))

		apply1 := actuator.EXPECT().
			Apply(gomock.Any(), uint32(1), uint32(0)).
			Return(nil)
		current1 := actuator.EXPECT().
			Current(gomock.Any()).
			Return(uint32(1), nil).
			After(apply1)
		apply2 := actuator.EXPECT().
			Apply(gomock.Any(), uint32(0), uint32(1)).
			Return(nil).
			After(current1)
		actuator.EXPECT().
			Current(gomock.Any()).
			Return(uint32(0), nil).
			After(apply2)

		c.ApplyControl(0, 50.0, 1.0)
		Expect(c.Status().CurrentIndex).To(Equal(uint32(1)))

		c.ApplyControl(1, 120.0, 1.0)
		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))

		c.Destroy()
	})

	It("should hold inside the hysteresis band", func() {
		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(1).
			WithBufferDepth(1).
			WithHysteresisMargin(0.05))

		apply1 := actuator.EXPECT().
			Apply(gomock.Any(), uint32(1), uint32(0)).
			Return(nil)
		actuator.EXPECT().
			Current(gomock.Any()).
			Return(uint32(1), nil).
			After(apply1)

		c.ApplyControl(0, 50.0, 1.0)
		Expect(c.Status().CurrentIndex).To(Equal(uint32(1)))

		// Oscillate narrowly around the goal, inside the margin band.
		band := []float64{100.0, 104.0, 101.0, 103.0, 100.5, 104.9}
		for i, rate := range band {
			c.ApplyControl(uint64(i+1), rate, 1.0)
		}

		Expect(c.Status().CurrentIndex).To(Equal(uint32(1)))

		c.Destroy()
	})

	It("should adopt the read-back state over the requested one", func() {
		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(1).
			WithBufferDepth(1))

		apply := actuator.EXPECT().
			Apply(gomock.Any(), uint32(1), uint32(0)).
			Return(nil)
		actuator.EXPECT().
			Current(gomock.Any()).
			Return(uint32(0), nil).
			After(apply)

		c.ApplyControl(0, 10.0, 1.0)

		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))

		c.Destroy()
	})

	It("should trust the request when the read-back is the sentinel",
		func() {
			control, cpu := threeStateTables()
			c := build(MakeBuilder().
				WithPerfGoal(100.0).
				WithStates(control, cpu).
				WithPeriod(1).
				WithBufferDepth(1))

			apply := actuator.EXPECT().
				Apply(gomock.Any(), uint32(1), uint32(0)).
				Return(nil)
			actuator.EXPECT().
				Current(gomock.Any()).
				Return(uint32(3), nil).
				After(apply)

			c.ApplyControl(0, 10.0, 1.0)

			Expect(c.Status().CurrentIndex).To(Equal(uint32(1)))

			c.Destroy()
		})

	It("should keep the last known state when the read-back fails", func() {
		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(1).
			WithBufferDepth(1))

		apply := actuator.EXPECT().
			Apply(gomock.Any(), uint32(1), uint32(0)).
			Return(nil)
		actuator.EXPECT().
			Current(gomock.Any()).
			Return(uint32(0), &ActuationError{Err: errReadback}).
			After(apply)

		c.ApplyControl(0, 10.0, 1.0)

		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))

		c.Destroy()
	})

	It("should keep the last known state when apply fails", func() {
		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(1).
			WithBufferDepth(1))

		actuator.EXPECT().
			Apply(gomock.Any(), uint32(1), uint32(0)).
			Return(&ActuationError{Err: errReadback})

		c.ApplyControl(0, 10.0, 1.0)

		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))

		c.Destroy()
	})

	It("should record one entry per call", func() {
		recorder := &captureRecorder{}
		control, cpu := singleStateTables()

		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(20).
			WithBufferDepth(1).
			WithRecorder(recorder))

		for tag := uint64(0); tag < 5; tag++ {
			c.ApplyControl(tag, 2.0, 3.0)
		}

		Expect(recorder.entries).To(HaveLen(5))
		Expect(recorder.entries[2].Tag).To(Equal(uint64(2)))
		Expect(recorder.entries[2].Rate).To(Equal(2.0))
		Expect(recorder.entries[2].Power).To(Equal(3.0))
		Expect(recorder.entries[2].StateIndex).To(Equal(uint32(0)))

		c.Destroy()
	})

	It("should smooth decisions over the sample window", func() {
		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(3).
			WithBufferDepth(3))

		// Mean of (140, 90, 100) is 110 > goal*(1+margin), but the
		// state is already lowest, so the epoch holds.
		c.ApplyControl(0, 140.0, 1.0)
		c.ApplyControl(1, 90.0, 1.0)
		c.ApplyControl(2, 100.0, 1.0)

		Expect(c.Status().CurrentIndex).To(Equal(uint32(0)))
		Expect(c.Status().MeanRate).To(BeNumerically("~", 110.0, 1e-9))

		c.Destroy()
	})

	It("should notify hooks at each epoch boundary", func() {
		var seen []EpochCtx

		control, cpu := threeStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithPeriod(2).
			WithBufferDepth(2))

		c.AcceptHook(hookFunc(func(ctx EpochCtx) {
			seen = append(seen, ctx)
		}))

		apply := actuator.EXPECT().
			Apply(gomock.Any(), uint32(1), uint32(0)).
			Return(nil)
		actuator.EXPECT().
			Current(gomock.Any()).
			Return(uint32(1), nil).
			After(apply)

		c.ApplyControl(0, 10.0, 1.0)
		c.ApplyControl(1, 20.0, 1.0)

		Expect(seen).To(HaveLen(1))
		Expect(seen[0].Tag).To(Equal(uint64(1)))
		Expect(seen[0].MeanRate).To(BeNumerically("~", 15.0, 1e-9))
		Expect(seen[0].From).To(Equal(uint32(0)))
		Expect(seen[0].To).To(Equal(uint32(1)))
		Expect(seen[0].Applied).To(BeTrue())

		c.Destroy()
	})

	It("should flush and close its recorder exactly once", func() {
		recorder := &captureRecorder{}
		control, cpu := singleStateTables()

		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu).
			WithRecorder(recorder))

		c.ApplyControl(0, 1.0, 1.0)

		c.Destroy()
		c.Destroy()

		Expect(recorder.flushed).To(Equal(1))
		// The caller owns a custom recorder; Destroy must not close it.
		Expect(recorder.closed).To(Equal(0))
	})

	It("should panic when used after Destroy", func() {
		control, cpu := singleStateTables()
		c := build(MakeBuilder().
			WithPerfGoal(100.0).
			WithStates(control, cpu))

		c.Destroy()

		Expect(func() {
			c.ApplyControl(0, 1.0, 1.0)
		}).To(Panic())
	})
})

type hookFunc func(ctx EpochCtx)

func (f hookFunc) Func(ctx EpochCtx) {
	f(ctx)
}

var errReadback = errors.New("configuration read-back failed")
