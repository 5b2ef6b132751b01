package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/sim"
	"github.com/san-kum/diffdrive/internal/storage"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTIME\tTARGET\tARRIVED\tTICKS\tTRIPS\tFAULTS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%v\t%d\t%d\t%d\n",
			run.ID,
			run.Kind,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Target,
			run.Finished,
			run.Ticks,
			run.WatchdogTrips,
			run.Faults,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(runID)
	if err != nil {
		return err
	}
	if len(samples) < 2 {
		return fmt.Errorf("run %s has too few samples to plot", runID)
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("kind: %s  target %.1f\n", meta.Kind, meta.Target)
	fmt.Printf("samples: %d\n\n", len(samples))

	series := func(f func(sim.Sample) float64) []float64 {
		out := make([]float64, len(samples))
		for i, s := range samples {
			out[i] = f(s)
		}
		return out
	}

	fmt.Println(asciigraph.PlotMany([][]float64{
		series(func(s sim.Sample) float64 { return float64(s.LeftTicks) }),
		series(func(s sim.Sample) float64 { return float64(s.RightTicks) }),
	},
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
		asciigraph.Caption("left / right encoder ticks"),
	))
	fmt.Println()

	fmt.Println(asciigraph.PlotMany([][]float64{
		series(func(s sim.Sample) float64 { return s.LeftOutput }),
		series(func(s sim.Sample) float64 { return s.RightOutput }),
	},
		asciigraph.Height(6),
		asciigraph.Width(80),
		asciigraph.LowerBound(-1),
		asciigraph.UpperBound(1),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
		asciigraph.Caption("left / right output"),
	))
	fmt.Println()

	fmt.Println(asciigraph.Plot(series(func(s sim.Sample) float64 { return s.Heading }),
		asciigraph.Height(8),
		asciigraph.Width(80),
		asciigraph.Caption("heading (degrees)"),
	))
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	samples, err := storage.New(dataDir).LoadSamples(args[0])
	if err != nil {
		return err
	}
	return storage.WriteSamplesCSV(os.Stdout, samples)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(args[0])
	if err != nil {
		return err
	}
	return storage.ExportJSON(os.Stdout, *meta, samples)
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	if writePath == "" {
		return nil
	}
	if err := config.Save(writePath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", writePath)
	return nil
}
