package motion

import (
	"fmt"
	"sync"

	"github.com/edaniels/golog"

	"github.com/san-kum/diffdrive/internal/closedloop"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/sensors"
)

type State int

const (
	Idle State = iota
	ConfiguredStraight
	MovingStraight
	ArrivedStraight
	ConfiguredTurn
	Turning
	ArrivedTurn
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ConfiguredStraight:
		return "configured_straight"
	case MovingStraight:
		return "moving_straight"
	case ArrivedStraight:
		return "arrived_straight"
	case ConfiguredTurn:
		return "configured_turn"
	case Turning:
		return "turning"
	case ArrivedTurn:
		return "arrived_turn"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Kind is the move kind a state belongs to, or 0 for Idle.
func (s State) Kind() drive.MoveKind {
	switch s {
	case ConfiguredStraight, MovingStraight, ArrivedStraight:
		return drive.MoveStraight
	case ConfiguredTurn, Turning, ArrivedTurn:
		return drive.MoveTurn
	default:
		return 0
	}
}

// InProgress is true between a start and the matching arrival.
func (s State) InProgress() bool {
	switch s {
	case ConfiguredStraight, MovingStraight, ConfiguredTurn, Turning:
		return true
	default:
		return false
	}
}

type Feeder interface {
	Feed()
}

type Config struct {
	Straight       drive.MotionParams
	Turn           drive.MotionParams
	ToleranceTicks int64
}

func (c Config) Validate() error {
	if c.ToleranceTicks <= 0 {
		return fmt.Errorf("%w: tolerance %d must be positive", drive.ErrInvalidConfig, c.ToleranceTicks)
	}
	if err := c.Straight.Validate(); err != nil {
		return fmt.Errorf("straight: %w", err)
	}
	if err := c.Turn.Validate(); err != nil {
		return fmt.Errorf("turn: %w", err)
	}
	return nil
}

// Controller runs straight and in-place turn moves on the motor
// controllers' trapezoidal profile executor. It only supplies terminal
// setpoints and polls the encoders for arrival.
type Controller struct {
	cfg     Config
	sink    drive.MotorSink
	gains   *closedloop.Configurator
	sensors *sensors.Model
	feeder  Feeder
	logger  golog.Logger

	mu        sync.Mutex
	state     State
	target    *drive.MotionTarget
	setpoints [2]int64
	faults    int
}

func New(cfg Config, sink drive.MotorSink, gains *closedloop.Configurator, model *sensors.Model, feeder Feeder, logger golog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:     cfg,
		sink:    sink,
		gains:   gains,
		sensors: model,
		feeder:  feeder,
		logger:  logger,
	}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the move in progress, if any.
func (c *Controller) Target() (drive.MotionTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return drive.MotionTarget{}, false
	}
	return *c.target, true
}

func (c *Controller) Setpoint(side drive.Side) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoints[side]
}

// Faults counts hardware errors absorbed during moves.
func (c *Controller) Faults() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faults
}

func (c *Controller) fault(op string, err error) {
	if err == nil {
		return
	}
	c.faults++
	c.logger.Warnw("hardware fault during move", "op", op, "state", c.state, "error", err)
}

// StartStraightMove zeroes the encoders, loads the straight cruise and
// acceleration, and selects the drive slot.
func (c *Controller) StartStraightMove() error {
	return c.start(drive.MoveStraight, c.cfg.Straight, drive.SlotDrive, ConfiguredStraight)
}

// StartTurnMove is StartStraightMove with the slower turn profile and the
// turn slot.
func (c *Controller) StartTurnMove() error {
	return c.start(drive.MoveTurn, c.cfg.Turn, drive.SlotTurn, ConfiguredTurn)
}

func (c *Controller) start(kind drive.MoveKind, params drive.MotionParams, slot drive.Slot, next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.InProgress() && c.state.Kind() != kind {
		return fmt.Errorf("%w: cannot start %s move while %s", drive.ErrInvalidMove, kind, c.state)
	}

	c.fault("reset encoders", c.sensors.ResetEncoders())
	c.fault("configure motion", c.gains.ConfigureMotion(params))
	c.fault("select slot", c.gains.SelectBoth(slot))

	c.state = next
	c.target = nil
	c.setpoints = [2]int64{}
	c.logger.Debugw("move configured", "kind", kind, "slot", slot,
		"cruise", params.CruiseVelocity, "accel", params.Acceleration)
	return nil
}

// StepStraightMove commands both sides to targetTicks and reports whether
// both are inside the tolerance band. Call it every tick until it returns
// true.
func (c *Controller) StepStraightMove(targetTicks int64) (bool, error) {
	return c.step(drive.MotionTarget{
		Kind:           drive.MoveStraight,
		TargetTicks:    targetTicks,
		ToleranceTicks: c.cfg.ToleranceTicks,
	}, MovingStraight, ArrivedStraight)
}

// StepTurnMove drives the left side to +arcTicks and the right side to
// -arcTicks. Arrival uses the absolute error of each side against its own
// signed setpoint.
func (c *Controller) StepTurnMove(arcTicks int64) (bool, error) {
	return c.step(drive.MotionTarget{
		Kind:           drive.MoveTurn,
		TargetTicks:    arcTicks,
		ToleranceTicks: c.cfg.ToleranceTicks,
	}, Turning, ArrivedTurn)
}

func (c *Controller) step(target drive.MotionTarget, moving, arrived State) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Kind() != target.Kind {
		return false, fmt.Errorf("%w: %s step while %s", drive.ErrInvalidMove, target.Kind, c.state)
	}

	c.target = &target
	for _, side := range drive.Sides {
		sp := target.SideTarget(side)
		c.setpoints[side] = sp
		if err := c.sink.SetClosedLoopTarget(side, float64(c.sensors.HardwareTicks(side, sp))); err != nil {
			c.fault("set closed loop target", &drive.HardwareError{Op: "set closed loop target", Side: side, Err: err})
		}
	}
	c.feeder.Feed()

	reading := c.sensors.Snapshot()
	for _, side := range drive.Sides {
		if !target.Within(side, reading.Ticks(side)) {
			c.state = moving
			return false, nil
		}
	}

	if c.state != arrived {
		c.logger.Infow("move arrived", "kind", target.Kind, "target", target.TargetTicks,
			"left", reading.LeftTicks, "right", reading.RightTicks)
	}
	c.state = arrived
	c.target = nil
	return true, nil
}

// EndTurnMove is kept for symmetry with StartTurnMove. Parameters are
// reloaded at the start of every move so nothing needs restoring.
func (c *Controller) EndTurnMove() {}

// Abort abandons the move in progress.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		c.logger.Infow("move aborted", "state", c.state)
	}
	c.state = Idle
	c.target = nil
}
