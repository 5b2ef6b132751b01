package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/san-kum/diffdrive/internal/automation"
	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/navx"
	"github.com/san-kum/diffdrive/internal/tuning"
	"github.com/san-kum/diffdrive/internal/viz"
)

func runTeleop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	seed := map[string]float64{
		cfg.Tuning.DriveMaxKey: config.DefaultDriveAbsMax,
		cfg.Tuning.RampKey:     cfg.OpenLoopRamp,
	}
	store := tuning.NewMQTTStore(cfg.Tuning.MQTTTopicPrefix, seed, logger)

	broker := mqttBroker
	if broker == "" {
		broker = cfg.Tuning.MQTTBroker
	}
	if broker != "" {
		if err := store.Connect(broker, cfg.Tuning.MQTTClientID); err != nil {
			return err
		}
		defer store.Close()
		logger.Infow("tuning values follow broker", "broker", broker, "prefix", cfg.Tuning.MQTTTopicPrefix)
	}

	opts := []automation.RigOption{automation.WithTuning(store.MapStore)}
	if teleopGyroPort != "" {
		sensor, err := navx.Open(teleopGyroPort, gyroBaud, logger)
		if err != nil {
			return err
		}
		defer sensor.Close()
		opts = append(opts, automation.WithGyro(sensor))
	}

	rig, err := automation.NewRig(cfg, logger, opts...)
	if err != nil {
		return err
	}

	p := tea.NewProgram(viz.NewTeleopModel(rig), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	_, err = p.Run()
	return err
}

func runGyro(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	sensor, err := navx.Open(gyroPort, gyroBaud, logger)
	if err != nil {
		return err
	}
	defer sensor.Close()

	ctx := cmd.Context()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
			heading, err := sensor.ReadHeadingDegrees()
			if err != nil {
				fmt.Printf("\rheading: --        bad frames %d", sensor.BadFrames())
				continue
			}
			fmt.Printf("\rheading: %8.2f°  bad frames %d", heading, sensor.BadFrames())
		}
	}
}
