package drivetrain

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/metrics"
	"github.com/san-kum/diffdrive/internal/motion"
	"github.com/san-kum/diffdrive/internal/sim"
)

type mapStore map[string]float64

func (m mapStore) Float(key string) float64 { return m[key] }

// rampRecorder is the simulated plant with every open-loop ramp push recorded.
type rampRecorder struct {
	*sim.Plant
	ramps []float64
}

func (r *rampRecorder) ConfigureOpenLoopRamp(side drive.Side, seconds float64) error {
	r.ramps = append(r.ramps, seconds)
	return r.Plant.ConfigureOpenLoopRamp(side, seconds)
}

type stick struct{ y, z float64 }

func (s stick) Y() float64 { return s.y }
func (s stick) Z() float64 { return s.z }

var _ = Describe("Drivetrain", func() {
	var (
		cfg   *config.Config
		plant *sim.Plant
		clock *sim.Clock
		store mapStore
		dt    *Drivetrain
	)

	build := func(gyro bool) {
		hw := Hardware{Motors: plant, Encoders: plant}
		if gyro {
			hw.Gyro = plant
		}
		var err error
		dt, err = New(cfg, hw, store, zap.NewNop().Sugar(), WithClock(clock.Now))
		Expect(err).NotTo(HaveOccurred())
	}

	run := func(cmd Command) *sim.Result {
		r := sim.NewRunner(plant, clock, dt.Watchdog(), zap.NewNop().Sugar())
		for _, m := range metrics.Standard() {
			r.AddMetric(m)
		}
		res, err := r.Run(context.Background(), cmd, sim.RunConfig{
			Period:        cfg.LoopPeriod,
			Duration:      5 * time.Second,
			CheckInterval: cfg.Watchdog.CheckInterval,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		cfg = config.DefaultConfig()
		cfg.OpenLoopRamp = 0
		plant = sim.NewPlantFromConfig(cfg)
		clock = sim.NewClock()
		store = mapStore{}
	})

	Describe("construction", func() {
		It("rejects an invalid configuration", func() {
			cfg.Motion.ToleranceTicks = 0
			_, err := New(cfg, Hardware{Motors: plant, Encoders: plant, Gyro: plant}, store, zap.NewNop().Sugar())
			Expect(err).To(MatchError(drive.ErrInvalidConfig))
		})

		It("applies every slot and selects the drive slot", func() {
			build(true)
			for _, side := range drive.Sides {
				for _, slot := range drive.Slots {
					g, ok := dt.Gains(side, slot)
					Expect(ok).To(BeTrue())
					Expect(g).To(Equal(cfg.Gains.Slot(slot)))
				}
				Expect(plant.SelectedSlot(side)).To(Equal(drive.SlotDrive))
			}
			Expect(dt.MoveState()).To(Equal(motion.Idle))
			Expect(dt.GyroStatus()).To(Succeed())
		})

		It("survives motor controllers that reject configuration", func() {
			plant.FailConfig(true)
			build(true)
			_, ok := dt.Gains(drive.Left, drive.SlotDrive)
			Expect(ok).To(BeFalse())
			Expect(dt.OverrideDrivePID(0.01, 0, 0, 0.3)).To(MatchError(drive.ErrSlotNotConfigured))
		})

		It("runs without a heading sensor", func() {
			build(false)
			_, err := dt.Heading()
			Expect(err).To(MatchError(drive.ErrSensorUnavailable))
			Expect(dt.Reading().HeadingValid).To(BeFalse())

			res := run(NewStraightInches(dt, 12))
			Expect(res.Finished).To(BeTrue())
		})
	})

	Describe("teleop", func() {
		BeforeEach(func() { build(true) })

		It("drives both sides forward", func() {
			Expect(dt.TeleopDrive(0.5, 0, false)).To(Succeed())
			plant.Step(time.Millisecond)
			Expect(plant.Output(drive.Left)).To(Equal(0.5))
			Expect(plant.Output(drive.Right)).To(Equal(0.5))
		})

		It("zeroes output once the loop stops feeding", func() {
			Expect(dt.TeleopDrive(0.6, 0, false)).To(Succeed())
			plant.Step(time.Millisecond)

			clock.Advance(50 * time.Millisecond)
			Expect(dt.CheckWatchdog()).To(BeFalse())
			Expect(plant.Output(drive.Left)).NotTo(BeZero())

			clock.Advance(50 * time.Millisecond)
			Expect(dt.CheckWatchdog()).To(BeTrue())
			Expect(plant.Output(drive.Left)).To(BeZero())
			Expect(plant.Output(drive.Right)).To(BeZero())
			Expect(dt.CheckWatchdog()).To(BeFalse(), "one trip per expiry")
		})

		It("zeroes output from the background checker", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				dt.RunWatchdog(ctx)
			}()

			Expect(dt.TeleopDrive(0.6, 0, false)).To(Succeed())
			plant.Step(time.Millisecond)
			Consistently(func() float64 { return plant.Output(drive.Left) }, "30ms", "5ms").ShouldNot(BeZero())

			clock.Advance(150 * time.Millisecond)
			Eventually(func() float64 { return plant.Output(drive.Left) }).Should(BeZero())
			Expect(plant.Output(drive.Right)).To(BeZero())
			Consistently(dt.Watchdog().Trips, "30ms", "5ms").Should(Equal(int64(1)))

			cancel()
			Eventually(done).Should(BeClosed())
		})

		It("abandons a move in progress", func() {
			Expect(dt.StartStraightMove()).To(Succeed())
			Expect(dt.TeleopDrive(0.4, 0, false)).To(Succeed())
			Expect(dt.MoveState()).To(Equal(motion.Idle))
			_, closed := plant.Setpoint(drive.Left)
			Expect(closed).To(BeFalse())
		})

		It("follows the joystick through the default command", func() {
			cmd := NewTeleopCommand(dt, stick{y: -0.5}, false)
			cmd.Initialize()
			Expect(cmd.OnTick()).To(BeFalse())
			plant.Step(time.Millisecond)
			Expect(plant.Output(drive.Left)).To(Equal(0.5))

			cmd.End(true)
			Expect(plant.Output(drive.Left)).To(BeZero())
		})

		It("keeps the watchdog fed while driving", func() {
			res := run(NewTeleopCommand(dt, stick{y: -0.8, z: 0.3}, true))
			Expect(res.WatchdogTrips).To(BeZero())
			Expect(res.Metrics["stale_output"]).To(BeZero())
			Expect(res.Finished).To(BeFalse())
		})
	})

	Describe("drive limiters", func() {
		BeforeEach(func() { build(true) })

		It("reads the output limit and ramp from the store", func() {
			store["Drive Max"] = 0.5
			store["Forward Limiter"] = 0.2
			Expect(dt.UpdateDriveLimiters()).To(Succeed())

			Expect(dt.MaxOutput()).To(Equal(0.5))
			Expect(dt.Ramp()).To(Equal(0.2))
			Expect(plant.Ramp(drive.Left)).To(Equal(0.2))
			Expect(plant.Ramp(drive.Right)).To(Equal(0.2))

			Expect(dt.TeleopDrive(1, 0, false)).To(Succeed())
			plant.Step(20 * time.Millisecond)
			Expect(plant.Output(drive.Left)).To(BeNumerically("~", 0.1, 1e-9))
		})

		It("only pushes the ramp when it changes", func() {
			store["Forward Limiter"] = 0.2
			Expect(dt.UpdateDriveLimiters()).To(Succeed())

			plant.FailConfig(true)
			Expect(dt.UpdateDriveLimiters()).To(Succeed())

			store["Forward Limiter"] = 0.4
			err := dt.UpdateDriveLimiters()
			Expect(drive.IsHardware(err)).To(BeTrue())
			Expect(dt.Ramp()).To(Equal(0.2))
		})

		It("keeps the last good ramp when the store holds an invalid one", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			rec := &rampRecorder{Plant: plant}
			var err error
			dt, err = New(cfg, Hardware{Motors: rec, Encoders: plant, Gyro: plant}, store, zap.New(core).Sugar(), WithClock(clock.Now))
			Expect(err).NotTo(HaveOccurred())

			store["Forward Limiter"] = 0.2
			Expect(dt.UpdateDriveLimiters()).To(Succeed())
			rec.ramps = nil

			store["Forward Limiter"] = math.NaN()
			for i := 0; i < 3; i++ {
				Expect(dt.UpdateDriveLimiters()).To(Succeed())
			}
			store["Forward Limiter"] = -2
			Expect(dt.UpdateDriveLimiters()).To(Succeed())
			store["Forward Limiter"] = math.Inf(1)
			Expect(dt.UpdateDriveLimiters()).To(Succeed())

			Expect(rec.ramps).To(BeEmpty())
			Expect(dt.Ramp()).To(Equal(0.2))
			Expect(plant.Ramp(drive.Left)).To(Equal(0.2))
			Expect(logs.FilterMessageSnippet("invalid open loop ramp").Len()).To(Equal(1))

			Expect(dt.TeleopDrive(1, 0, false)).To(Succeed())
			plant.Step(20 * time.Millisecond)
			Expect(math.IsNaN(plant.Output(drive.Left))).To(BeFalse())
			Expect(plant.Output(drive.Left)).To(BeNumerically("~", 0.1, 1e-9))

			store["Forward Limiter"] = 0.3
			Expect(dt.UpdateDriveLimiters()).To(Succeed())
			Expect(rec.ramps).To(Equal([]float64{0.3, 0.3}))
		})

		It("treats absent keys as zero", func() {
			Expect(dt.UpdateDriveLimiters()).To(Succeed())
			Expect(dt.MaxOutput()).To(Equal(1.0))
			Expect(dt.Ramp()).To(BeZero())
		})
	})

	Describe("moves", func() {
		BeforeEach(func() { build(true) })

		It("drives a straight line to the target", func() {
			cmd := NewStraightInches(dt, 24)
			res := run(cmd)

			Expect(res.Finished).To(BeTrue())
			Expect(cmd.Err()).NotTo(HaveOccurred())
			Expect(dt.MoveState()).To(Equal(motion.ArrivedStraight))
			for _, side := range drive.Sides {
				Expect(dt.PositionTicks(side)).To(BeNumerically("~", cmd.Ticks(), 2*cfg.Motion.ToleranceTicks))
			}
			Expect(res.WatchdogTrips).To(BeZero())
			Expect(res.Metrics["stale_output"]).To(BeZero())

			left, right := dt.Setpoints()
			Expect(left).To(Equal(cmd.Ticks()))
			Expect(right).To(Equal(cmd.Ticks()))
		})

		It("turns in place to the requested heading", func() {
			cmd := NewTurnDegrees(dt, 90)
			res := run(cmd)

			Expect(res.Finished).To(BeTrue())
			Expect(dt.MoveState()).To(Equal(motion.ArrivedTurn))
			Expect(plant.SelectedSlot(drive.Left)).To(Equal(drive.SlotTurn))
			h, err := dt.Heading()
			Expect(err).NotTo(HaveOccurred())
			Expect(h).To(BeNumerically("~", 90, 1))

			left, right := dt.Setpoints()
			Expect(right).To(Equal(-left))
		})

		It("rejects a turn while a straight move is in progress", func() {
			Expect(dt.StartStraightMove()).To(Succeed())
			_, err := dt.StepStraightMove(5000)
			Expect(err).NotTo(HaveOccurred())

			cmd := NewTurnDegrees(dt, 45)
			cmd.Initialize()
			Expect(cmd.Err()).To(MatchError(drive.ErrInvalidMove))
			Expect(cmd.OnTick()).To(BeTrue())
			Expect(dt.MoveState()).To(Equal(motion.MovingStraight))
		})

		It("aborts an interrupted move", func() {
			cmd := NewStraightInches(dt, 100)
			cmd.Initialize()
			Expect(cmd.OnTick()).To(BeFalse())
			cmd.End(true)
			Expect(dt.MoveState()).To(Equal(motion.Idle))
		})

		It("zeroes outputs when a move stalls", func() {
			r := sim.NewRunner(plant, clock, dt.Watchdog(), zap.NewNop().Sugar())
			stale := metrics.NewStaleOutput()
			r.AddMetric(stale)
			res, err := r.Run(context.Background(), NewStraightInches(dt, 200), sim.RunConfig{
				Period:        cfg.LoopPeriod,
				Duration:      2 * time.Second,
				CheckInterval: cfg.Watchdog.CheckInterval,
				StallAfter:    400 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.WatchdogTrips).To(Equal(1))
			Expect(stale.Value()).To(BeZero())

			last := res.Samples[len(res.Samples)-1]
			Expect(last.LeftOutput).To(BeZero())
			Expect(last.RightOutput).To(BeZero())
		})
	})

	Describe("gain overrides", func() {
		BeforeEach(func() { build(true) })

		It("replaces the drive and turn loop terms on both sides", func() {
			Expect(dt.OverrideDrivePID(0.002, 0.0001, 0.01, 0.3)).To(Succeed())
			Expect(dt.OverrideTurnPID(0.005, 0, 0, 0.3)).To(Succeed())

			for _, side := range drive.Sides {
				g, _ := dt.Gains(side, drive.SlotDrive)
				Expect(g.KP).To(Equal(0.002))
				Expect(g.IntegralZone).To(Equal(cfg.Gains.Drive.IntegralZone))
				t, _ := dt.Gains(side, drive.SlotTurn)
				Expect(t.KP).To(Equal(0.005))
			}
			Expect(plant.SelectedSlot(drive.Left)).To(Equal(drive.SlotDrive))
		})
	})
})
