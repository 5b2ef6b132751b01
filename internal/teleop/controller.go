package teleop

import (
	"fmt"
	"math"

	"github.com/san-kum/diffdrive/internal/drive"
)

// Feeder is the watchdog side of the control loop.
type Feeder interface {
	Feed()
}

// Controller shapes joystick axes into per-side open-loop outputs.
type Controller struct {
	threshold float64
	maxOutput float64
	feeder    Feeder
}

func New(threshold float64, feeder Feeder) (*Controller, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("%w: deadband %v outside [0,1)", drive.ErrInvalidConfig, threshold)
	}
	return &Controller{threshold: threshold, maxOutput: 1, feeder: feeder}, nil
}

func (c *Controller) Threshold() float64 { return c.threshold }

// SetMaxOutput scales both outputs after mixing. Values <= 0 remove the limit.
func (c *Controller) SetMaxOutput(limit float64) {
	if !(limit > 0) || limit > 1 {
		limit = 1
	}
	c.maxOutput = limit
}

func (c *Controller) MaxOutput() float64 { return c.maxOutput }

// Deadband returns v unchanged when |v| >= threshold and 0 otherwise.
func Deadband(v, threshold float64) float64 {
	if math.Abs(v) >= threshold {
		return v
	}
	return 0
}

func (c *Controller) Deadband(v float64) float64 {
	return Deadband(v, c.threshold)
}

// ComputeCommand turns raw forward and twist axes into left and right
// outputs in [-1, 1]. The watchdog is fed on every call.
func (c *Controller) ComputeCommand(forward, rotation float64, squared bool) (left, right float64) {
	c.feeder.Feed()

	x := clamp(c.Deadband(forward))
	z := -clamp(c.Deadband(rotation))
	if squared {
		x = math.Copysign(x*x, x)
		z = math.Copysign(z*z, z)
	}

	left, right = ArcadeMix(x, z)
	return left * c.maxOutput, right * c.maxOutput
}

func (c *Controller) Compute(cmd drive.DriveCommand) (left, right float64) {
	return c.ComputeCommand(cmd.Forward, cmd.Rotation, cmd.Squared)
}

// ArcadeMix is the standard arcade law. With no rotation both sides equal
// forward; with no forward the sides are rotation and -rotation.
func ArcadeMix(forward, rotation float64) (left, right float64) {
	// negative zero would take the sign of maxInput below
	if forward == 0 {
		forward = 0
	}
	maxInput := math.Copysign(math.Max(math.Abs(forward), math.Abs(rotation)), forward)

	if forward >= 0 {
		if rotation >= 0 {
			left, right = maxInput, forward-rotation
		} else {
			left, right = forward+rotation, maxInput
		}
	} else {
		if rotation >= 0 {
			left, right = forward+rotation, maxInput
		} else {
			left, right = maxInput, forward-rotation
		}
	}
	return clamp(left), clamp(right)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
