package automation

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/edaniels/golog"

	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/drivetrain"
	"github.com/san-kum/diffdrive/internal/sim"
)

// MonteCarloConfig repeats one straight move on plants whose free speed
// and time constant are perturbed by up to +-Perturbation (a fraction).
type MonteCarloConfig struct {
	Base         *config.Config
	Inches       float64
	Perturbation float64
	NumTrials    int
	Workers      int
	Timeout      time.Duration
	Seed         int64
}

type MonteCarloResult struct {
	TrialID      int
	FreeSpeed    float64
	TimeConstant time.Duration
	Arrived      bool
	Duration     time.Duration
	Overshoot    float64
	Error        float64
}

// RunMonteCarlo runs every trial on its own rig, in parallel.
func RunMonteCarlo(ctx context.Context, cfg MonteCarloConfig, logger golog.Logger) ([]MonteCarloResult, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMoveTimeout
	}

	baseFree := sim.NewPlantFromConfig(cfg.Base).FreeSpeed()
	results := make([]MonteCarloResult, cfg.NumTrials)
	jobs := make([]sim.Job, cfg.NumTrials)

	for trial := range jobs {
		c := *cfg.Base
		c.Plant.FreeSpeed = baseFree * (1 + (rng.Float64()-0.5)*2*cfg.Perturbation)
		c.Plant.TimeConstant = time.Duration(float64(c.Plant.TimeConstant) * (1 + (rng.Float64()-0.5)*2*cfg.Perturbation))
		results[trial] = MonteCarloResult{TrialID: trial, FreeSpeed: c.Plant.FreeSpeed, TimeConstant: c.Plant.TimeConstant}

		jobs[trial] = func(ctx context.Context) (*sim.Result, error) {
			rig, err := NewRig(&c, logger)
			if err != nil {
				return nil, err
			}
			cmd := drivetrain.NewStraightInches(rig.Drivetrain, cfg.Inches)
			res, err := rig.Run(ctx, cmd, RunOptions{Duration: timeout})
			if err != nil {
				return nil, err
			}
			target := float64(cmd.Ticks())
			worst := math.Max(
				math.Abs(float64(rig.Drivetrain.PositionTicks(drive.Left))-target),
				math.Abs(float64(rig.Drivetrain.PositionTicks(drive.Right))-target),
			)
			res.Metrics["final_error"] = worst
			return res, nil
		}
	}

	runs, err := sim.RunParallel(ctx, jobs, cfg.Workers)
	for i, res := range runs {
		if res == nil {
			continue
		}
		results[i].Arrived = res.Finished
		results[i].Duration = time.Duration(res.Ticks) * cfg.Base.LoopPeriod
		results[i].Overshoot = res.Metrics["overshoot"]
		results[i].Error = res.Metrics["final_error"]
	}
	return results, err
}

// MonteCarloStats counts trials that arrived within the timeout.
func MonteCarloStats(results []MonteCarloResult) (arrived int, missed int) {
	for _, r := range results {
		if r.Arrived {
			arrived++
		} else {
			missed++
		}
	}
	return
}
