package drive

import (
	"fmt"
	"math"
	"strings"
)

type Side int

const (
	Left Side = iota
	Right
)

// Sides lists both sides in the order every fan-out uses.
var Sides = [...]Side{Left, Right}

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Slot names one of the four closed-loop gain slots a motor controller
// exposes. The numeric value is the hardware slot index.
type Slot int

const (
	SlotDrive Slot = iota
	SlotTurn
	SlotVelocity
	SlotMotionProfile
)

const NumSlots = 4

var Slots = [NumSlots]Slot{SlotDrive, SlotTurn, SlotVelocity, SlotMotionProfile}

func (s Slot) Index() int { return int(s) }

func (s Slot) Valid() bool { return s >= SlotDrive && s <= SlotMotionProfile }

func (s Slot) String() string {
	switch s {
	case SlotDrive:
		return "drive"
	case SlotTurn:
		return "turn"
	case SlotVelocity:
		return "velocity"
	case SlotMotionProfile:
		return "motion_profile"
	default:
		return fmt.Sprintf("Slot(%d)", int(s))
	}
}

func ParseSlot(name string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "drive":
		return SlotDrive, nil
	case "turn", "turning":
		return SlotTurn, nil
	case "velocity":
		return SlotVelocity, nil
	case "motion_profile", "motionprofile":
		return SlotMotionProfile, nil
	default:
		return SlotDrive, fmt.Errorf("unknown slot %q", name)
	}
}

// GainProfile is one PIDF parameter set. It is passed by value, so a
// profile handed to a configurator cannot change underneath it.
type GainProfile struct {
	KP                 float64 `yaml:"kp"`
	KI                 float64 `yaml:"ki"`
	KD                 float64 `yaml:"kd"`
	KF                 float64 `yaml:"kf"`
	IntegralZone       float64 `yaml:"integral_zone"`
	PeakOutput         float64 `yaml:"peak_output"`
	ClosedLoopPeriodMs int     `yaml:"closed_loop_period_ms"`
}

func (g GainProfile) Validate() error {
	for name, v := range map[string]float64{
		"kP": g.KP, "kI": g.KI, "kD": g.KD, "kF": g.KF, "integral zone": g.IntegralZone,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidGains, name)
		}
	}
	if g.IntegralZone < 0 {
		return fmt.Errorf("%w: integral zone %v is negative", ErrInvalidGains, g.IntegralZone)
	}
	if math.IsNaN(g.PeakOutput) || g.PeakOutput < 0 || g.PeakOutput > 1 {
		return fmt.Errorf("%w: peak output %v outside [0,1]", ErrInvalidGains, g.PeakOutput)
	}
	if g.ClosedLoopPeriodMs < 1 {
		return fmt.Errorf("%w: closed loop period %dms below 1ms", ErrInvalidGains, g.ClosedLoopPeriodMs)
	}
	return nil
}

// WithPIDF returns a copy of g with the four loop terms replaced.
func (g GainProfile) WithPIDF(kp, ki, kd, kf float64) GainProfile {
	g.KP, g.KI, g.KD, g.KF = kp, ki, kd, kf
	return g
}

// MotionParams drive the controller-side trapezoidal profile. Units follow
// the motor controller: sensor units per 100ms, and per 100ms per second.
type MotionParams struct {
	CruiseVelocity float64 `yaml:"cruise_velocity"`
	Acceleration   float64 `yaml:"acceleration"`
}

func (m MotionParams) Validate() error {
	if !(m.CruiseVelocity > 0) || !(m.Acceleration > 0) {
		return fmt.Errorf("%w: cruise velocity and acceleration must be positive, got %v/%v",
			ErrInvalidConfig, m.CruiseVelocity, m.Acceleration)
	}
	return nil
}

type SensorReading struct {
	LeftTicks      int64
	RightTicks     int64
	HeadingDegrees float64
	HeadingValid   bool
}

func (r SensorReading) Ticks(side Side) int64 {
	if side == Right {
		return r.RightTicks
	}
	return r.LeftTicks
}

type DriveCommand struct {
	Forward  float64
	Rotation float64
	Squared  bool
}

type MoveKind int

const (
	MoveStraight MoveKind = iota + 1
	MoveTurn
)

func (k MoveKind) String() string {
	switch k {
	case MoveStraight:
		return "straight"
	case MoveTurn:
		return "turn"
	default:
		return fmt.Sprintf("MoveKind(%d)", int(k))
	}
}

// MotionTarget is the setpoint of the move in progress. For a turn,
// TargetTicks is the arc: the left side is driven to +arc and the right
// side to -arc.
type MotionTarget struct {
	Kind           MoveKind
	TargetTicks    int64
	ToleranceTicks int64
}

// SideTarget returns the setpoint a side is driven to.
func (t MotionTarget) SideTarget(side Side) int64 {
	if t.Kind == MoveTurn && side == Right {
		return -t.TargetTicks
	}
	return t.TargetTicks
}

// Within reports whether position is strictly inside the tolerance band
// around the side's setpoint.
func (t MotionTarget) Within(side Side, position int64) bool {
	err := position - t.SideTarget(side)
	if err < 0 {
		err = -err
	}
	return err < t.ToleranceTicks
}

type MotorSink interface {
	SetClosedLoopTarget(side Side, positionTicks float64) error
	SetOutput(side Side, value float64) error
	ConfigureGains(side Side, slot Slot, gains GainProfile) error
	SelectSlot(side Side, slot Slot) error
	ConfigureMotion(side Side, params MotionParams) error
	ConfigureOpenLoopRamp(side Side, seconds float64) error
}

// Encoders are non-blocking snapshot reads of the per-side position.
type Encoders interface {
	ReadTicks(side Side) int64
	ResetPosition(side Side) error
}

// Gyro returns the accumulated (unbounded) heading in degrees.
type Gyro interface {
	ReadHeadingDegrees() (float64, error)
}

type SensorSource interface {
	Encoders
	Gyro
}

// TunableStore is a live key to value mapping read every cycle. An absent
// key reads as 0.
type TunableStore interface {
	Float(key string) float64
}
