package automation

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/drivetrain"
	"github.com/san-kum/diffdrive/internal/sim"
)

const (
	ActionStraight = "straight"
	ActionTurn     = "turn"
	ActionTeleop   = "teleop"
	ActionStall    = "stall"
)

const (
	defaultMoveTimeout   = 5 * time.Second
	defaultTeleopTimeout = time.Second
	defaultStallTimeout  = 500 * time.Millisecond
)

// Scenario is a scripted sequence of drivetrain commands run back to back
// on one robot.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Preset      string `yaml:"preset"`
	Steps       []Step `yaml:"steps"`
}

type Step struct {
	Action string `yaml:"action"`

	// straight: Inches, or Ticks when set
	Inches float64 `yaml:"inches"`
	Ticks  int64   `yaml:"ticks"`
	// turn: Degrees, or ArcTicks when set
	Degrees  float64 `yaml:"degrees"`
	ArcTicks int64   `yaml:"arc_ticks"`
	// teleop: driver axes held for the whole step
	Forward  float64 `yaml:"forward"`
	Rotation float64 `yaml:"rotation"`
	Squared  bool    `yaml:"squared"`

	// Tuning values are written to the tunable store before the step runs.
	Tuning map[string]float64 `yaml:"tuning"`

	Timeout    time.Duration `yaml:"timeout"`
	StallAfter time.Duration `yaml:"stall_after"`
	StallFor   time.Duration `yaml:"stall_for"`
}

func (s Step) Validate() error {
	switch s.Action {
	case ActionStraight, ActionTurn, ActionTeleop, ActionStall:
	default:
		return fmt.Errorf("%w: unknown action %q", drive.ErrInvalidConfig, s.Action)
	}
	if s.Timeout < 0 || s.StallAfter < 0 || s.StallFor < 0 {
		return fmt.Errorf("%w: %s step durations must not be negative", drive.ErrInvalidConfig, s.Action)
	}
	return nil
}

func (s Step) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	switch s.Action {
	case ActionTeleop:
		return defaultTeleopTimeout
	case ActionStall:
		return defaultStallTimeout
	default:
		return defaultMoveTimeout
	}
}

func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: scenario %q has no steps", drive.ErrInvalidConfig, sc.Name)
	}
	for i, step := range sc.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, errors.Wrap(err, "parse scenario")
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

type StepResult struct {
	Step   Step
	Result *sim.Result
	// Faults counts hardware errors the motion controller absorbed during
	// the step.
	Faults int
}

type heldAxes struct{ y, z float64 }

func (h heldAxes) Y() float64 { return h.y }
func (h heldAxes) Z() float64 { return h.z }

// idle never commands anything, so the watchdog starves.
type idle struct{}

func (idle) Initialize()  {}
func (idle) OnTick() bool { return false }
func (idle) End(bool)     {}

// RunScenario executes every step on the rig in order. A rejected move
// stops the scenario; a move that does not arrive in time is logged and
// the next step runs.
func RunScenario(ctx context.Context, rig *Rig, scenario *Scenario, logger golog.Logger) ([]StepResult, error) {
	results := make([]StepResult, 0, len(scenario.Steps))
	dt := rig.Drivetrain

	for i, step := range scenario.Steps {
		if err := step.Validate(); err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		for k, v := range step.Tuning {
			rig.Tuning.Set(k, v)
		}

		var (
			cmd    drivetrain.Command
			failed func() error
		)
		switch step.Action {
		case ActionStraight:
			c := drivetrain.NewStraightInches(dt, step.Inches)
			if step.Ticks != 0 {
				c = drivetrain.NewStraightCommand(dt, step.Ticks)
			}
			cmd, failed = c, c.Err
		case ActionTurn:
			c := drivetrain.NewTurnDegrees(dt, step.Degrees)
			if step.ArcTicks != 0 {
				c = drivetrain.NewTurnCommand(dt, step.ArcTicks)
			}
			cmd, failed = c, c.Err
		case ActionTeleop:
			cmd = drivetrain.NewTeleopCommand(dt, heldAxes{y: -step.Forward, z: step.Rotation}, step.Squared)
		case ActionStall:
			cmd = idle{}
		}

		logger.Infow("running scenario step", "scenario", scenario.Name,
			"step", i+1, "of", len(scenario.Steps), "action", step.Action)

		faults := dt.Faults()
		res, err := rig.Run(ctx, cmd, RunOptions{
			Duration:   step.timeout(),
			StallAfter: step.StallAfter,
			StallFor:   step.StallFor,
		})
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}
		results = append(results, StepResult{Step: step, Result: res, Faults: dt.Faults() - faults})

		if failed != nil {
			if err := failed(); err != nil {
				return results, fmt.Errorf("step %d %s: %w", i+1, step.Action, err)
			}
			if !res.Finished {
				logger.Warnw("move did not arrive", "step", i+1, "action", step.Action, "timeout", step.timeout())
			}
		}
	}

	return results, nil
}
