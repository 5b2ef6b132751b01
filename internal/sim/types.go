package sim

import "time"

// Sample is the drivetrain state at the end of one control tick.
type Sample struct {
	Time            time.Duration
	LeftTicks       int64
	RightTicks      int64
	Heading         float64
	LeftOutput      float64
	RightOutput     float64
	LeftSetpoint    float64
	RightSetpoint   float64
	ClosedLoop      bool
	WatchdogExpired bool
	Stalled         bool
}

// Command is a unit of work the runner schedules once per tick.
type Command interface {
	Initialize()
	OnTick() (done bool)
	End(interrupted bool)
}

// Safety is the watchdog as seen by the runner.
type Safety interface {
	Check() bool
	Expired() bool
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(s Sample)
}

type RunConfig struct {
	Period time.Duration
	// Duration bounds the run; a command that finishes earlier ends it.
	Duration time.Duration
	// CheckInterval is how often the watchdog is checked between ticks.
	CheckInterval time.Duration
	// StallAfter, if set, stops calling the command after this much time to
	// model a hung control loop. StallFor limits the stall; zero stalls for
	// the rest of the run.
	StallAfter time.Duration
	StallFor   time.Duration
}

type Result struct {
	Samples       []Sample
	Metrics       map[string]float64
	Ticks         int
	Finished      bool
	WatchdogTrips int
}
