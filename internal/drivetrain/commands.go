package drivetrain

// Command is what an external scheduler runs against the drivetrain: one
// Initialize, OnTick every control period until it reports done, then End.
type Command interface {
	Initialize()
	OnTick() (done bool)
	End(interrupted bool)
}

// Joystick supplies raw driver axes in [-1, 1]. Y is forward-negative.
type Joystick interface {
	Y() float64
	Z() float64
}

// TeleopCommand is the default drive command. It never finishes.
type TeleopCommand struct {
	dt      *Drivetrain
	js      Joystick
	squared bool
}

func NewTeleopCommand(dt *Drivetrain, js Joystick, squared bool) *TeleopCommand {
	return &TeleopCommand{dt: dt, js: js, squared: squared}
}

func (c *TeleopCommand) Initialize() {}

func (c *TeleopCommand) OnTick() bool {
	if err := c.dt.UpdateDriveLimiters(); err != nil {
		c.dt.logger.Warnw("drive limiter update failed", "error", err)
	}
	if err := c.dt.TeleopDrive(-c.js.Y(), c.js.Z(), c.squared); err != nil {
		c.dt.logger.Warnw("teleop output rejected", "error", err)
	}
	return false
}

func (c *TeleopCommand) End(bool) {
	c.dt.stop()
}

// StraightCommand drives both sides the same distance.
type StraightCommand struct {
	dt     *Drivetrain
	ticks  int64
	err    error
	failed bool
}

func NewStraightCommand(dt *Drivetrain, ticks int64) *StraightCommand {
	return &StraightCommand{dt: dt, ticks: ticks}
}

func NewStraightInches(dt *Drivetrain, inches float64) *StraightCommand {
	return NewStraightCommand(dt, dt.cfg.InchesToTicks(inches))
}

func (c *StraightCommand) Initialize() {
	c.err = c.dt.StartStraightMove()
	c.failed = c.err != nil
	if c.failed {
		c.dt.logger.Errorw("straight move rejected", "ticks", c.ticks, "error", c.err)
	}
}

func (c *StraightCommand) OnTick() bool {
	if c.failed {
		return true
	}
	reached, err := c.dt.StepStraightMove(c.ticks)
	if err != nil {
		c.err, c.failed = err, true
		c.dt.logger.Errorw("straight move step rejected", "error", err)
		return true
	}
	return reached
}

func (c *StraightCommand) End(interrupted bool) {
	if interrupted {
		c.dt.AbortMove()
	}
}

// Err is the reason the move was rejected, if it was.
func (c *StraightCommand) Err() error { return c.err }

func (c *StraightCommand) Ticks() int64 { return c.ticks }

// TurnCommand rotates in place; positive arcs turn clockwise.
type TurnCommand struct {
	dt     *Drivetrain
	arc    int64
	err    error
	failed bool
}

func NewTurnCommand(dt *Drivetrain, arcTicks int64) *TurnCommand {
	return &TurnCommand{dt: dt, arc: arcTicks}
}

func NewTurnDegrees(dt *Drivetrain, degrees float64) *TurnCommand {
	return NewTurnCommand(dt, dt.cfg.DegreesToArcTicks(degrees))
}

func (c *TurnCommand) Initialize() {
	c.err = c.dt.StartTurnMove()
	c.failed = c.err != nil
	if c.failed {
		c.dt.logger.Errorw("turn move rejected", "arc", c.arc, "error", c.err)
	}
}

func (c *TurnCommand) OnTick() bool {
	if c.failed {
		return true
	}
	reached, err := c.dt.StepTurnMove(c.arc)
	if err != nil {
		c.err, c.failed = err, true
		c.dt.logger.Errorw("turn move step rejected", "error", err)
		return true
	}
	return reached
}

func (c *TurnCommand) End(interrupted bool) {
	c.dt.EndTurnMove()
	if interrupted {
		c.dt.AbortMove()
	}
}

func (c *TurnCommand) Err() error { return c.err }

func (c *TurnCommand) ArcTicks() int64 { return c.arc }
