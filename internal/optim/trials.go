package optim

import (
	"context"
	"time"

	"github.com/edaniels/golog"

	"github.com/san-kum/diffdrive/internal/automation"
	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drivetrain"
	"github.com/san-kum/diffdrive/internal/sim"
)

// StraightTrial scores drive slot gains on a straight move of inches.
func StraightTrial(base *config.Config, inches float64, timeout time.Duration, logger golog.Logger) Trial {
	return func(ctx context.Context, params map[string]float64) (*sim.Result, error) {
		cfg := *base
		cfg.Gains.Drive = ApplyParams(base.Gains.Drive, params)
		rig, err := automation.NewRig(&cfg, logger)
		if err != nil {
			return nil, err
		}
		return rig.Run(ctx, drivetrain.NewStraightInches(rig.Drivetrain, inches), automation.RunOptions{Duration: timeout})
	}
}

// TurnTrial scores turn slot gains on an in-place turn of degrees.
func TurnTrial(base *config.Config, degrees float64, timeout time.Duration, logger golog.Logger) Trial {
	return func(ctx context.Context, params map[string]float64) (*sim.Result, error) {
		cfg := *base
		cfg.Gains.Turn = ApplyParams(base.Gains.Turn, params)
		rig, err := automation.NewRig(&cfg, logger)
		if err != nil {
			return nil, err
		}
		return rig.Run(ctx, drivetrain.NewTurnDegrees(rig.Drivetrain, degrees), automation.RunOptions{Duration: timeout})
	}
}
