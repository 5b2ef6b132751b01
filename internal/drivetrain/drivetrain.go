package drivetrain

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/san-kum/diffdrive/internal/closedloop"
	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/motion"
	"github.com/san-kum/diffdrive/internal/sensors"
	"github.com/san-kum/diffdrive/internal/teleop"
	"github.com/san-kum/diffdrive/internal/watchdog"
)

// Hardware is what the drivetrain drives and reads. Gyro is nil when the
// heading sensor failed to start.
type Hardware struct {
	Motors   drive.MotorSink
	Encoders drive.Encoders
	Gyro     drive.Gyro
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock the watchdog measures feed age with.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Drivetrain composes the closed-loop configurator, sensor model, teleop
// shaping, motion controller and safety watchdog of a two-sided drive.
type Drivetrain struct {
	cfg    *config.Config
	motors drive.MotorSink
	store  drive.TunableStore
	logger golog.Logger

	gains    *closedloop.Configurator
	sensors  *sensors.Model
	watchdog *watchdog.Watchdog
	teleop   *teleop.Controller
	motion   *motion.Controller

	mu           sync.Mutex
	ramp         float64
	rampRejected bool
}

// New validates cfg and brings the drivetrain up: all four gain slots on
// both sides, the drive slot selected, straight motion parameters loaded,
// encoders zeroed and the watchdog armed. Hardware errors during bring-up
// are logged and do not fail construction.
func New(cfg *config.Config, hw Hardware, store drive.TunableStore, logger golog.Logger, opts ...Option) (*Drivetrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Drivetrain{
		cfg:    cfg,
		motors: hw.Motors,
		store:  store,
		logger: logger,
		gains:  closedloop.New(hw.Motors, logger),
		ramp:   cfg.OpenLoopRamp,
	}

	var wdOpts []watchdog.Option
	if o.now != nil {
		wdOpts = append(wdOpts, watchdog.WithClock(o.now))
	}
	d.watchdog = watchdog.New(cfg.Watchdog.Timeout, d.stop, logger, wdOpts...)

	var bringUp error
	for _, slot := range drive.Slots {
		bringUp = multierr.Append(bringUp, d.gains.ApplyBoth(slot, cfg.Gains.Slot(slot)))
	}
	bringUp = multierr.Append(bringUp, d.gains.SelectBoth(drive.SlotDrive))
	bringUp = multierr.Append(bringUp, d.gains.ConfigureMotion(cfg.Motion.Straight))
	bringUp = multierr.Append(bringUp, d.pushRamp(cfg.OpenLoopRamp))

	d.sensors = sensors.New(hw.Encoders, hw.Gyro, logger)
	bringUp = multierr.Append(bringUp, d.sensors.ResetEncoders())

	var err error
	if d.teleop, err = teleop.New(cfg.Teleop.Deadband, d.watchdog); err != nil {
		return nil, err
	}
	if d.motion, err = motion.New(cfg.MotionControl(), hw.Motors, d.gains, d.sensors, d.watchdog, logger); err != nil {
		return nil, err
	}

	if bringUp != nil {
		logger.Warnw("drivetrain bring-up incomplete", "errors", len(multierr.Errors(bringUp)), "error", bringUp)
	} else {
		logger.Infow("drivetrain ready", "deadband", cfg.Teleop.Deadband,
			"tolerance", cfg.Motion.ToleranceTicks, "watchdog", cfg.Watchdog.Timeout)
	}
	return d, nil
}

func (d *Drivetrain) Config() *config.Config { return d.cfg }

// stop is the watchdog trip.
func (d *Drivetrain) stop() {
	for _, side := range drive.Sides {
		if err := d.motors.SetOutput(side, 0); err != nil {
			d.logger.Errorw("failed to zero output", "side", side, "error", err)
		}
	}
}

func (d *Drivetrain) setOutputs(left, right float64) error {
	return multierr.Combine(
		d.wrap("set output", drive.Left, d.motors.SetOutput(drive.Left, left)),
		d.wrap("set output", drive.Right, d.motors.SetOutput(drive.Right, right)),
	)
}

func (d *Drivetrain) wrap(op string, side drive.Side, err error) error {
	if err == nil {
		return nil
	}
	return &drive.HardwareError{Op: op, Side: side, Err: err}
}

// TeleopDrive shapes joystick axes into open-loop outputs. A move in
// progress is abandoned.
func (d *Drivetrain) TeleopDrive(forward, rotation float64, squared bool) error {
	if d.motion.State() != motion.Idle {
		d.motion.Abort()
	}
	left, right := d.teleop.ComputeCommand(forward, rotation, squared)
	return d.setOutputs(left, right)
}

func (d *Drivetrain) StartStraightMove() error { return d.motion.StartStraightMove() }

func (d *Drivetrain) StepStraightMove(targetTicks int64) (bool, error) {
	return d.motion.StepStraightMove(targetTicks)
}

func (d *Drivetrain) StartTurnMove() error { return d.motion.StartTurnMove() }

func (d *Drivetrain) StepTurnMove(arcTicks int64) (bool, error) {
	return d.motion.StepTurnMove(arcTicks)
}

func (d *Drivetrain) EndTurnMove() { d.motion.EndTurnMove() }

func (d *Drivetrain) AbortMove() { d.motion.Abort() }

func (d *Drivetrain) MoveState() motion.State { return d.motion.State() }

// Faults counts hardware errors absorbed by moves.
func (d *Drivetrain) Faults() int { return d.motion.Faults() }

// Setpoints returns the last closed-loop setpoints sent to each side.
func (d *Drivetrain) Setpoints() (left, right int64) {
	return d.motion.Setpoint(drive.Left), d.motion.Setpoint(drive.Right)
}

func (d *Drivetrain) ResetEncoders() error { return d.sensors.ResetEncoders() }

func (d *Drivetrain) PositionTicks(side drive.Side) int64 { return d.sensors.PositionTicks(side) }

func (d *Drivetrain) Heading() (float64, error) { return d.sensors.Heading() }

func (d *Drivetrain) RawAngle() (float64, error) { return d.sensors.RawAngle() }

func (d *Drivetrain) Reading() drive.SensorReading { return d.sensors.Snapshot() }

// OverrideDrivePID replaces the drive slot loop terms on both sides.
func (d *Drivetrain) OverrideDrivePID(kp, ki, kd, kf float64) error {
	return d.override(drive.SlotDrive, kp, ki, kd, kf)
}

// OverrideTurnPID replaces the turn slot loop terms on both sides.
func (d *Drivetrain) OverrideTurnPID(kp, ki, kd, kf float64) error {
	return d.override(drive.SlotTurn, kp, ki, kd, kf)
}

func (d *Drivetrain) override(slot drive.Slot, kp, ki, kd, kf float64) error {
	return multierr.Combine(
		d.gains.Override(drive.Left, slot, kp, ki, kd, kf),
		d.gains.Override(drive.Right, slot, kp, ki, kd, kf),
	)
}

func (d *Drivetrain) Gains(side drive.Side, slot drive.Slot) (drive.GainProfile, bool) {
	return d.gains.Gains(side, slot)
}

// UpdateDriveLimiters reads the teleop output limit and the open-loop ramp
// from the tunable store. Absent keys read as zero: no output limit and no
// ramp. The ramp is only pushed to the motor controllers when it changes;
// negative or non-finite ramps are ignored.
func (d *Drivetrain) UpdateDriveLimiters() error {
	if d.store == nil {
		return nil
	}
	d.teleop.SetMaxOutput(d.store.Float(d.cfg.Tuning.DriveMaxKey))

	ramp := d.store.Float(d.cfg.Tuning.RampKey)
	d.mu.Lock()
	defer d.mu.Unlock()
	if math.IsNaN(ramp) || math.IsInf(ramp, 0) || ramp < 0 {
		if !d.rampRejected {
			d.logger.Warnw("ignoring invalid open loop ramp, keeping last good value",
				"key", d.cfg.Tuning.RampKey, "value", ramp, "ramp", d.ramp)
		}
		d.rampRejected = true
		return nil
	}
	d.rampRejected = false
	if ramp == d.ramp {
		return nil
	}
	if err := d.pushRamp(ramp); err != nil {
		return err
	}
	d.logger.Debugw("open loop ramp updated", "from", d.ramp, "to", ramp)
	d.ramp = ramp
	return nil
}

func (d *Drivetrain) pushRamp(seconds float64) error {
	return multierr.Combine(
		d.wrap("configure open loop ramp", drive.Left, d.motors.ConfigureOpenLoopRamp(drive.Left, seconds)),
		d.wrap("configure open loop ramp", drive.Right, d.motors.ConfigureOpenLoopRamp(drive.Right, seconds)),
	)
}

func (d *Drivetrain) MaxOutput() float64 { return d.teleop.MaxOutput() }

func (d *Drivetrain) Ramp() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ramp
}

// CheckWatchdog runs one expiry check and reports whether it tripped.
func (d *Drivetrain) CheckWatchdog() bool { return d.watchdog.Check() }

// RunWatchdog checks the watchdog at the configured interval until ctx is
// done.
func (d *Drivetrain) RunWatchdog(ctx context.Context) {
	d.watchdog.Run(ctx, d.cfg.Watchdog.CheckInterval)
}

func (d *Drivetrain) Watchdog() *watchdog.Watchdog { return d.watchdog }

func (d *Drivetrain) GyroStatus() error { return d.sensors.GyroStatus() }
