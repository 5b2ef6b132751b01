package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/diffdrive/internal/automation"
	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drivetrain"
	"github.com/san-kum/diffdrive/internal/optim"
	"github.com/san-kum/diffdrive/internal/sim"
	"github.com/san-kum/diffdrive/internal/storage"
)

func runStraight(cmd *cobra.Command, args []string) error {
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("inches: %w", err)
	}
	return runMove(cmd.Context(), "straight", v, func(dt *drivetrain.Drivetrain) (drivetrain.Command, func() error) {
		c := drivetrain.NewStraightInches(dt, v)
		return c, c.Err
	})
}

func runTurn(cmd *cobra.Command, args []string) error {
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("degrees: %w", err)
	}
	return runMove(cmd.Context(), "turn", v, func(dt *drivetrain.Drivetrain) (drivetrain.Command, func() error) {
		c := drivetrain.NewTurnDegrees(dt, v)
		return c, c.Err
	})
}

func runMove(ctx context.Context, kind string, target float64, build func(*drivetrain.Drivetrain) (drivetrain.Command, func() error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	rig, err := automation.NewRig(cfg, logger)
	if err != nil {
		return err
	}

	moveCmd, moveErr := build(rig.Drivetrain)
	res, err := rig.Run(ctx, moveCmd, automation.RunOptions{Duration: timeout, StallAfter: stallAfter, StallFor: stallFor})
	if err != nil {
		return err
	}
	if err := moveErr(); err != nil {
		return err
	}

	printResult(kind, target, res, rig)
	if noSave {
		return nil
	}
	return saveRun(storage.RunMetadata{
		Kind:     kind,
		Preset:   preset,
		Period:   cfg.LoopPeriod,
		Duration: timeout,
		Target:   target,
		Faults:   rig.Drivetrain.Faults(),
	}, res)
}

func printResult(kind string, target float64, res *sim.Result, rig *automation.Rig) {
	status := "arrived"
	if !res.Finished {
		status = "did not arrive"
	}
	fmt.Printf("%s %.1f: %s after %d ticks (%s)\n", kind, target, status, res.Ticks,
		rig.Clock.Elapsed())
	if len(res.Samples) > 0 {
		last := res.Samples[len(res.Samples)-1]
		fmt.Printf("  left %d  right %d  heading %.2f°\n", last.LeftTicks, last.RightTicks, last.Heading)
	}
	fmt.Printf("  watchdog trips %d  faults %d\n", res.WatchdogTrips, rig.Drivetrain.Faults())

	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s %.4f\n", name, res.Metrics[name])
	}
}

func saveRun(meta storage.RunMetadata, res *sim.Result) error {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	id, err := st.Save(meta, res)
	if err != nil {
		return err
	}
	fmt.Printf("saved run %s\n", id)
	return nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	if sc.Preset != "" && preset == "" && configFile == "" {
		preset = sc.Preset
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	rig, err := automation.NewRig(cfg, logger)
	if err != nil {
		return err
	}

	results, runErr := automation.RunScenario(cmd.Context(), rig, sc, logger)
	for i, r := range results {
		target := r.Step.Inches + r.Step.Degrees + r.Step.Forward
		printResult(fmt.Sprintf("step %d %s", i+1, r.Step.Action), target, r.Result, rig)
		if noSave {
			continue
		}
		meta := storage.RunMetadata{
			Kind:     "scenario-" + r.Step.Action,
			Preset:   preset,
			Period:   cfg.LoopPeriod,
			Duration: time.Duration(r.Result.Ticks) * cfg.LoopPeriod,
			Target:   target,
			Faults:   r.Faults,
		}
		if err := saveRun(meta, r.Result); err != nil {
			return err
		}
	}
	return runErr
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	results, err := automation.RunMonteCarlo(cmd.Context(), automation.MonteCarloConfig{
		Base:         cfg,
		Inches:       inches,
		Perturbation: perturb,
		NumTrials:    trials,
		Workers:      workers,
		Timeout:      timeout,
		Seed:         seed,
	}, newLogger())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tFREE SPEED\tTAU\tARRIVED\tTIME\tOVERSHOOT\tERROR")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%.0f\t%s\t%v\t%s\t%.1f\t%.1f\n",
			r.TrialID, r.FreeSpeed, r.TimeConstant, r.Arrived, r.Duration, r.Overshoot, r.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	arrived, missed := automation.MonteCarloStats(results)
	fmt.Printf("\narrived %d, missed %d\n", arrived, missed)
	return nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	var trial optim.Trial
	switch args[0] {
	case "straight":
		trial = optim.StraightTrial(cfg, inches, timeout, logger)
	case "turn":
		trial = optim.TurnTrial(cfg, degrees, timeout, logger)
	default:
		return fmt.Errorf("unknown move %q, want straight or turn", args[0])
	}

	gs := optim.NewGridSearch([]string{optim.ParamKP, optim.ParamKD}, [][]float64{kpGrid, kdGrid}, workers)
	best, all, err := gs.Search(cmd.Context(), trial, metric)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "KP\tKD\tFINISHED\t%s\n", metric)
	for _, c := range all {
		fmt.Fprintf(w, "%g\t%g\t%v\t%.3f\n", c.Params[optim.ParamKP], c.Params[optim.ParamKD], c.Finished, c.Score)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if !best.Finished {
		return err
	}

	fmt.Printf("\nbest: kP=%g kD=%g %s=%.3f\n", best.Params[optim.ParamKP], best.Params[optim.ParamKD], metric, best.Score)
	if err != nil {
		logger.Warnw("some trials failed", "error", err)
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		fmt.Printf("%-12s deadband %.2f  ramp %.2fs  tolerance %d  tau %s\n",
			name, cfg.Teleop.Deadband, cfg.OpenLoopRamp, cfg.Motion.ToleranceTicks, cfg.Plant.TimeConstant)
	}
	return nil
}
