package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/edaniels/golog"

	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/sensors"
)

// Runner plays the command scheduler against a simulated plant: it calls
// the command once per period, advances the plant in watchdog-check sized
// increments, and records one Sample per tick.
type Runner struct {
	plant     *Plant
	clock     *Clock
	safety    Safety
	logger    golog.Logger
	metrics   []Metric
	observers []Observer
}

func NewRunner(plant *Plant, clock *Clock, safety Safety, logger golog.Logger) *Runner {
	return &Runner{
		plant:  plant,
		clock:  clock,
		safety: safety,
		logger: logger,
	}
}

func (r *Runner) AddMetric(m Metric)     { r.metrics = append(r.metrics, m) }
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

func (r *Runner) validateConfig(cfg RunConfig) error {
	if cfg.Period <= 0 {
		return fmt.Errorf("%w: period must be positive, got %s", drive.ErrInvalidConfig, cfg.Period)
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", drive.ErrInvalidConfig, cfg.Duration)
	}
	if cfg.CheckInterval <= 0 {
		return fmt.Errorf("%w: watchdog check interval must be positive, got %s", drive.ErrInvalidConfig, cfg.CheckInterval)
	}
	return nil
}

func (r *Runner) Run(ctx context.Context, cmd Command, cfg RunConfig) (*Result, error) {
	if err := r.validateConfig(cfg); err != nil {
		return nil, err
	}

	steps := int(cfg.Duration / cfg.Period)
	result := &Result{
		Samples: make([]Sample, 0, steps),
		Metrics: make(map[string]float64),
	}
	for _, m := range r.metrics {
		m.Reset()
	}

	start := r.clock.Elapsed()
	cmd.Initialize()

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			cmd.End(true)
			r.collect(result)
			return result, ctx.Err()
		default:
		}

		t := r.clock.Elapsed() - start
		stalled := cfg.StallAfter > 0 && t >= cfg.StallAfter &&
			(cfg.StallFor <= 0 || t < cfg.StallAfter+cfg.StallFor)

		s, done, trips := r.Tick(cmd, cfg.Period, cfg.CheckInterval, stalled)
		s.Time -= start
		result.WatchdogTrips += trips
		result.Samples = append(result.Samples, s)
		result.Ticks++
		for _, m := range r.metrics {
			m.Observe(s)
		}
		for _, o := range r.observers {
			o.OnStep(s)
		}

		if done {
			result.Finished = true
			break
		}
	}

	cmd.End(!result.Finished)
	r.collect(result)
	return result, nil
}

// Tick runs one control period: the command (unless stalled), then the
// plant in checkInterval steps with a watchdog check after each. The
// sample time is the clock's elapsed time.
func (r *Runner) Tick(cmd Command, period, checkInterval time.Duration, stalled bool) (Sample, bool, int) {
	done := false
	if !stalled {
		done = cmd.OnTick()
	}

	trips := 0
	for left := period; left > 0; {
		h := min(checkInterval, left)
		r.plant.Step(h)
		r.clock.Advance(h)
		if r.safety.Check() {
			trips++
			r.logger.Debugw("watchdog tripped", "t", r.clock.Elapsed())
		}
		left -= h
	}
	return r.sample(r.clock.Elapsed(), stalled), done, trips
}

func (r *Runner) collect(result *Result) {
	for _, m := range r.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}

func (r *Runner) sample(t time.Duration, stalled bool) Sample {
	heading, _ := r.plant.ReadHeadingDegrees()
	ls, closed := r.plant.Setpoint(drive.Left)
	rs, _ := r.plant.Setpoint(drive.Right)
	return Sample{
		Time:            t,
		LeftTicks:       r.plant.ReadTicks(drive.Left),
		RightTicks:      r.plant.ReadTicks(drive.Right),
		Heading:         sensors.NormalizeHeading(heading),
		LeftOutput:      r.plant.Output(drive.Left),
		RightOutput:     r.plant.Output(drive.Right),
		LeftSetpoint:    ls,
		RightSetpoint:   rs,
		ClosedLoop:      closed,
		WatchdogExpired: r.safety.Expired(),
		Stalled:         stalled,
	}
}
