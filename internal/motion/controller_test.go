package motion

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/san-kum/diffdrive/internal/closedloop"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/sensors"
)

// rig is a motor sink and sensor source whose encoders step a fixed
// distance toward each new setpoint.
type rig struct {
	ticks     [2]int64
	advance   int64
	targets   [2][]float64
	selected  [2]drive.Slot
	motion    [2]drive.MotionParams
	resets    int
	failSetpt bool
	failReset bool
}

var errBus = errors.New("bus unreachable")

func (r *rig) SetClosedLoopTarget(side drive.Side, pos float64) error {
	r.targets[side] = append(r.targets[side], pos)
	if r.failSetpt {
		return errBus
	}
	target := int64(pos)
	switch {
	case r.ticks[side] < target:
		r.ticks[side] = min(r.ticks[side]+r.advance, target)
	case r.ticks[side] > target:
		r.ticks[side] = max(r.ticks[side]-r.advance, target)
	}
	return nil
}

func (r *rig) SetOutput(drive.Side, float64) error { return nil }

func (r *rig) ConfigureGains(drive.Side, drive.Slot, drive.GainProfile) error { return nil }

func (r *rig) SelectSlot(side drive.Side, slot drive.Slot) error {
	r.selected[side] = slot
	return nil
}

func (r *rig) ConfigureMotion(side drive.Side, params drive.MotionParams) error {
	r.motion[side] = params
	return nil
}

func (r *rig) ConfigureOpenLoopRamp(drive.Side, float64) error { return nil }

func (r *rig) ReadTicks(side drive.Side) int64 { return r.ticks[side] }

func (r *rig) ResetPosition(side drive.Side) error {
	r.resets++
	if r.failReset {
		return errBus
	}
	r.ticks[side] = 0
	return nil
}

func (r *rig) ReadHeadingDegrees() (float64, error) { return 0, nil }

type feedCounter struct{ n int }

func (f *feedCounter) Feed() { f.n++ }

var (
	straightParams = drive.MotionParams{CruiseVelocity: 1500, Acceleration: 750}
	turnParams     = drive.MotionParams{CruiseVelocity: 1000, Acceleration: 500}
)

var _ = Describe("Controller", func() {
	var (
		hw     *rig
		feeder *feedCounter
		ctrl   *Controller
		cfg    Config
	)

	build := func() {
		logger := zap.NewNop().Sugar()
		model := sensors.New(hw, hw, logger)
		var err error
		ctrl, err = New(cfg, hw, closedloop.New(hw, logger), model, feeder, logger)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		hw = &rig{advance: 100}
		feeder = &feedCounter{}
		cfg = Config{Straight: straightParams, Turn: turnParams, ToleranceTicks: 25}
		build()
	})

	It("rejects a non-positive tolerance", func() {
		cfg.ToleranceTicks = 0
		_, err := New(cfg, hw, nil, nil, feeder, zap.NewNop().Sugar())
		Expect(err).To(MatchError(drive.ErrInvalidConfig))
	})

	It("starts idle", func() {
		Expect(ctrl.State()).To(Equal(Idle))
		_, ok := ctrl.Target()
		Expect(ok).To(BeFalse())
	})

	Describe("straight moves", func() {
		It("configures the straight profile and drive slot", func() {
			hw.ticks = [2]int64{300, 310}
			Expect(ctrl.StartStraightMove()).To(Succeed())

			Expect(ctrl.State()).To(Equal(ConfiguredStraight))
			Expect(hw.ticks).To(Equal([2]int64{0, 0}))
			Expect(hw.motion).To(Equal([2]drive.MotionParams{straightParams, straightParams}))
			Expect(hw.selected).To(Equal([2]drive.Slot{drive.SlotDrive, drive.SlotDrive}))
		})

		It("arrives on the tenth step at 100 ticks per step", func() {
			Expect(ctrl.StartStraightMove()).To(Succeed())

			for i := 1; i <= 9; i++ {
				reached, err := ctrl.StepStraightMove(1000)
				Expect(err).NotTo(HaveOccurred())
				Expect(reached).To(BeFalse(), "step %d", i)
				Expect(ctrl.State()).To(Equal(MovingStraight))
			}

			reached, err := ctrl.StepStraightMove(1000)
			Expect(err).NotTo(HaveOccurred())
			Expect(reached).To(BeTrue())
			Expect(ctrl.State()).To(Equal(ArrivedStraight))
			Expect(feeder.n).To(Equal(10))
			Expect(hw.ticks).To(Equal([2]int64{1000, 1000}))

			_, ok := ctrl.Target()
			Expect(ok).To(BeFalse(), "target is discarded on arrival")
		})

		It("commands the same setpoint to both sides every step", func() {
			Expect(ctrl.StartStraightMove()).To(Succeed())
			for i := 0; i < 3; i++ {
				_, _ = ctrl.StepStraightMove(1000)
			}
			Expect(hw.targets[drive.Left]).To(Equal([]float64{1000, 1000, 1000}))
			Expect(hw.targets[drive.Right]).To(Equal([]float64{1000, 1000, 1000}))
			Expect(ctrl.Setpoint(drive.Right)).To(Equal(int64(1000)))
		})

		It("still travels the full distance when the encoder reset is rejected", func() {
			hw.ticks = [2]int64{300, 300}
			hw.failReset = true
			Expect(ctrl.StartStraightMove()).To(Succeed())
			Expect(ctrl.Faults()).To(Equal(1))

			reached := false
			for i := 0; i < 50 && !reached; i++ {
				var err error
				reached, err = ctrl.StepStraightMove(1000)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(reached).To(BeTrue())
			Expect(ctrl.State()).To(Equal(ArrivedStraight))
			Expect(hw.ticks).To(Equal([2]int64{1300, 1300}))
			Expect(hw.targets[drive.Left]).To(HaveEach(1300.0))
			Expect(ctrl.Setpoint(drive.Left)).To(Equal(int64(1000)))
		})

		DescribeTable("arrival needs both sides strictly inside tolerance",
			func(left, right int64, want bool) {
				hw.advance = 0
				Expect(ctrl.StartStraightMove()).To(Succeed())
				hw.ticks = [2]int64{left, right}
				reached, err := ctrl.StepStraightMove(1000)
				Expect(err).NotTo(HaveOccurred())
				Expect(reached).To(Equal(want))
			},
			Entry("both on target", int64(1000), int64(1000), true),
			Entry("both inside", int64(976), int64(1024), true),
			Entry("left exactly at tolerance", int64(975), int64(1000), false),
			Entry("right exactly at tolerance", int64(1000), int64(1025), false),
			Entry("one side far", int64(1000), int64(400), false),
		)
	})

	Describe("turn moves", func() {
		BeforeEach(func() {
			cfg.ToleranceTicks = 15
			build()
			hw.advance = 0
		})

		It("configures the turn profile and turn slot", func() {
			Expect(ctrl.StartTurnMove()).To(Succeed())
			Expect(ctrl.State()).To(Equal(ConfiguredTurn))
			Expect(hw.motion[drive.Right]).To(Equal(turnParams))
			Expect(hw.selected).To(Equal([2]drive.Slot{drive.SlotTurn, drive.SlotTurn}))
		})

		It("commands opposite setpoints", func() {
			Expect(ctrl.StartTurnMove()).To(Succeed())
			_, err := ctrl.StepTurnMove(500)
			Expect(err).NotTo(HaveOccurred())
			Expect(hw.targets[drive.Left]).To(Equal([]float64{500}))
			Expect(hw.targets[drive.Right]).To(Equal([]float64{-500}))
			Expect(ctrl.State()).To(Equal(Turning))
		})

		DescribeTable("arrival uses absolute error on each side",
			func(left, right int64, want bool) {
				Expect(ctrl.StartTurnMove()).To(Succeed())
				hw.ticks = [2]int64{left, right}
				reached, err := ctrl.StepTurnMove(500)
				Expect(err).NotTo(HaveOccurred())
				Expect(reached).To(Equal(want))
			},
			Entry("left overshoot is not arrival", int64(520), int64(-480), false),
			Entry("both inside", int64(510), int64(-505), true),
			Entry("right overshoot is not arrival", int64(500), int64(-520), false),
			Entry("right wrong direction", int64(500), int64(500), false),
		)

		It("treats EndTurnMove as a no-op", func() {
			Expect(ctrl.StartTurnMove()).To(Succeed())
			_, _ = ctrl.StepTurnMove(500)
			before := ctrl.State()
			ctrl.EndTurnMove()
			Expect(ctrl.State()).To(Equal(before))
		})
	})

	Describe("invalid moves", func() {
		It("rejects steps while idle", func() {
			_, err := ctrl.StepStraightMove(1000)
			Expect(err).To(MatchError(drive.ErrInvalidMove))
			_, err = ctrl.StepTurnMove(100)
			Expect(err).To(MatchError(drive.ErrInvalidMove))
			Expect(hw.targets[drive.Left]).To(BeEmpty())
			Expect(feeder.n).To(BeZero())
		})

		It("rejects a turn step during a straight move", func() {
			Expect(ctrl.StartStraightMove()).To(Succeed())
			_, err := ctrl.StepTurnMove(100)
			Expect(err).To(MatchError(drive.ErrInvalidMove))
			Expect(ctrl.State()).To(Equal(ConfiguredStraight))
		})

		It("rejects starting a turn while a straight move is in progress", func() {
			Expect(ctrl.StartStraightMove()).To(Succeed())
			_, _ = ctrl.StepStraightMove(1000)
			resets := hw.resets

			Expect(ctrl.StartTurnMove()).To(MatchError(drive.ErrInvalidMove))
			Expect(ctrl.State()).To(Equal(MovingStraight))
			Expect(hw.resets).To(Equal(resets))
			Expect(hw.selected[drive.Left]).To(Equal(drive.SlotDrive))
		})

		It("allows a new move after arrival", func() {
			hw.advance = 1000
			Expect(ctrl.StartStraightMove()).To(Succeed())
			reached, _ := ctrl.StepStraightMove(1000)
			Expect(reached).To(BeTrue())

			Expect(ctrl.StartTurnMove()).To(Succeed())
			Expect(ctrl.State()).To(Equal(ConfiguredTurn))
		})

		It("allows a new move after abort", func() {
			Expect(ctrl.StartTurnMove()).To(Succeed())
			_, _ = ctrl.StepTurnMove(500)
			ctrl.Abort()
			Expect(ctrl.State()).To(Equal(Idle))
			_, ok := ctrl.Target()
			Expect(ok).To(BeFalse())

			Expect(ctrl.StartStraightMove()).To(Succeed())
		})
	})

	It("absorbs hardware faults without aborting", func() {
		Expect(ctrl.StartStraightMove()).To(Succeed())
		hw.failSetpt = true

		reached, err := ctrl.StepStraightMove(1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(reached).To(BeFalse())
		Expect(ctrl.Faults()).To(Equal(2))
		Expect(ctrl.State()).To(Equal(MovingStraight))
		Expect(feeder.n).To(Equal(1))
	})
})
