package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/edaniels/golog"
	"github.com/spf13/cobra"

	"github.com/san-kum/diffdrive/internal/config"
)

var (
	dataDir    string
	configFile string
	preset     string
	verbose    bool

	timeout    time.Duration
	stallAfter time.Duration
	stallFor   time.Duration
	noSave     bool

	mqttBroker string
	gyroPort   string
	gyroBaud   int

	teleopGyroPort string

	trials  int
	perturb float64
	workers int
	seed    int64
	inches  float64
	degrees float64
	kpGrid  []float64
	kdGrid  []float64
	metric  string

	writePath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "diffdrive",
		Short:         "differential drivetrain control core and simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".diffdrive", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	straightCmd := &cobra.Command{
		Use:   "straight [inches]",
		Short: "drive a closed-loop straight line",
		Args:  cobra.ExactArgs(1),
		RunE:  runStraight,
	}
	turnCmd := &cobra.Command{
		Use:   "turn [degrees]",
		Short: "turn in place, positive is clockwise",
		Args:  cobra.ExactArgs(1),
		RunE:  runTurn,
	}
	for _, c := range []*cobra.Command{straightCmd, turnCmd} {
		c.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "give up after")
		c.Flags().DurationVar(&stallAfter, "stall-after", 0, "hang the control loop after this long")
		c.Flags().DurationVar(&stallFor, "stall-for", 0, "hang duration, 0 for the rest of the run")
		c.Flags().BoolVar(&noSave, "no-save", false, "do not record the run")
	}

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().BoolVar(&noSave, "no-save", false, "do not record the steps")

	monteCarloCmd := &cobra.Command{
		Use:   "monte-carlo",
		Short: "repeat a straight move on perturbed plants",
		RunE:  runMonteCarlo,
	}
	monteCarloCmd.Flags().IntVar(&trials, "trials", 20, "number of trials")
	monteCarloCmd.Flags().Float64Var(&perturb, "perturb", 0.15, "max relative plant perturbation")
	monteCarloCmd.Flags().Float64Var(&inches, "inches", 48, "move length")
	monteCarloCmd.Flags().IntVar(&workers, "workers", 4, "parallel trials")
	monteCarloCmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 for time based")
	monteCarloCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per trial timeout")

	tuneCmd := &cobra.Command{
		Use:       "tune [straight|turn]",
		Short:     "grid search the drive or turn slot gains",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"straight", "turn"},
		RunE:      runTune,
	}
	tuneCmd.Flags().Float64SliceVar(&kpGrid, "kp", []float64{0.0008, 0.0016, 0.0032}, "kP values")
	tuneCmd.Flags().Float64SliceVar(&kdGrid, "kd", []float64{0}, "kD values")
	tuneCmd.Flags().StringVar(&metric, "metric", "overshoot", "metric to minimise")
	tuneCmd.Flags().Float64Var(&inches, "inches", 48, "straight move length")
	tuneCmd.Flags().Float64Var(&degrees, "degrees", 90, "turn angle")
	tuneCmd.Flags().IntVar(&workers, "workers", 4, "parallel trials")
	tuneCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per trial timeout")

	teleopCmd := &cobra.Command{
		Use:   "teleop",
		Short: "drive the simulated robot from the keyboard",
		RunE:  runTeleop,
	}
	teleopCmd.Flags().StringVar(&mqttBroker, "mqtt", "", "tuning broker, e.g. tcp://localhost:1883")
	teleopCmd.Flags().StringVar(&teleopGyroPort, "gyro-port", "", "serial navX to read heading from instead of the simulation")
	teleopCmd.Flags().IntVar(&gyroBaud, "baud", 57600, "gyro baud rate")

	gyroCmd := &cobra.Command{
		Use:   "gyro",
		Short: "stream the heading of a serial IMU",
		RunE:  runGyro,
	}
	gyroCmd.Flags().StringVar(&gyroPort, "gyro-port", "/dev/ttyACM0", "serial port")
	gyroCmd.Flags().IntVar(&gyroBaud, "baud", 57600, "baud rate")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}
	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "write run samples as csv to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "write a run and its samples as json to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		RunE:  listPresets,
	}
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration",
		RunE:  showConfig,
	}
	configCmd.Flags().StringVar(&writePath, "write", "", "also save it to this path")

	rootCmd.AddCommand(straightCmd, turnCmd, scenarioCmd, monteCarloCmd, tuneCmd,
		teleopCmd, gyroCmd, listCmd, plotCmd, exportCSVCmd, exportJSONCmd, presetsCmd, configCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() golog.Logger {
	if verbose {
		return golog.NewDebugLogger("diffdrive")
	}
	return golog.NewDevelopmentLogger("diffdrive")
}

// loadConfig prefers --config, then --preset, then the defaults.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	if preset != "" {
		cfg := config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q (have %v)", preset, config.ListPresets())
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}
