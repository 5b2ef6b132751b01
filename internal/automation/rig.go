package automation

import (
	"context"
	"time"

	"github.com/edaniels/golog"

	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/drivetrain"
	"github.com/san-kum/diffdrive/internal/metrics"
	"github.com/san-kum/diffdrive/internal/sim"
	"github.com/san-kum/diffdrive/internal/tuning"
)

// Rig is a drivetrain wired to a simulated plant on a simulated clock.
type Rig struct {
	Config     *config.Config
	Plant      *sim.Plant
	Clock      *sim.Clock
	Drivetrain *drivetrain.Drivetrain
	Tuning     *tuning.MapStore
	// Gyro is an external heading source used instead of the plant's
	// simulated heading; nil means the plant.
	Gyro drive.Gyro

	logger    golog.Logger
	observers []sim.Observer
}

type RigOption func(*Rig)

// WithTuning shares an existing tunable store, such as the local view of
// an MQTT-backed store.
func WithTuning(store *tuning.MapStore) RigOption {
	return func(r *Rig) { r.Tuning = store }
}

// WithGyro feeds the drivetrain's heading from a real sensor while the
// wheels stay simulated.
func WithGyro(g drive.Gyro) RigOption {
	return func(r *Rig) { r.Gyro = g }
}

func NewRig(cfg *config.Config, logger golog.Logger, opts ...RigOption) (*Rig, error) {
	r := &Rig{
		Config: cfg,
		Plant:  sim.NewPlantFromConfig(cfg),
		Clock:  sim.NewClock(),
		Tuning: tuning.NewMapStore(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	hw := drivetrain.Hardware{Motors: r.Plant, Encoders: r.Plant, Gyro: r.Plant}
	if r.Gyro != nil {
		hw.Gyro = r.Gyro
	}
	dt, err := drivetrain.New(cfg, hw, r.Tuning, logger, drivetrain.WithClock(r.Clock.Now))
	if err != nil {
		return nil, err
	}
	r.Drivetrain = dt
	return r, nil
}

// AddObserver receives every sample of every subsequent run.
func (r *Rig) AddObserver(o sim.Observer) { r.observers = append(r.observers, o) }

// RunOptions bound a single command run.
type RunOptions struct {
	Duration   time.Duration
	StallAfter time.Duration
	StallFor   time.Duration
}

// Runner returns a runner over the rig with the standard metrics and the
// rig's observers attached.
func (r *Rig) Runner() *sim.Runner {
	runner := sim.NewRunner(r.Plant, r.Clock, r.Drivetrain.Watchdog(), r.logger)
	for _, m := range metrics.Standard() {
		runner.AddMetric(m)
	}
	for _, o := range r.observers {
		runner.AddObserver(o)
	}
	return runner
}

// Run schedules cmd at the configured loop period.
func (r *Rig) Run(ctx context.Context, cmd drivetrain.Command, opts RunOptions) (*sim.Result, error) {
	return r.Runner().Run(ctx, cmd, sim.RunConfig{
		Period:        r.Config.LoopPeriod,
		Duration:      opts.Duration,
		CheckInterval: r.Config.Watchdog.CheckInterval,
		StallAfter:    opts.StallAfter,
		StallFor:      opts.StallFor,
	})
}
