package automation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/motion"
)

const squareDance = `
name: square-dance
description: out, turn around, back, hand over to the driver
steps:
  - action: straight
    inches: 24
  - action: turn
    degrees: 180
  - action: straight
    inches: 24
  - action: teleop
    forward: 0.6
    timeout: 400ms
    tuning:
      Drive Max: 0.5
  - action: stall
    timeout: 300ms
`

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.OpenLoopRamp = 0
	return cfg
}

func TestLoadScenario(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "square.yaml")
	g.Expect(os.WriteFile(path, []byte(squareDance), 0644)).To(Succeed())

	sc, err := LoadScenario(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sc.Name).To(Equal("square-dance"))
	g.Expect(sc.Steps).To(HaveLen(5))
	g.Expect(sc.Steps[3].Timeout).To(Equal(400 * time.Millisecond))
	g.Expect(sc.Steps[3].Tuning).To(HaveKeyWithValue("Drive Max", 0.5))
	g.Expect(sc.Steps[0].timeout()).To(Equal(defaultMoveTimeout))
}

func TestParseScenarioRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no steps", "name: empty\n"},
		{"unknown action", "steps:\n  - action: strafe\n"},
		{"negative timeout", "steps:\n  - action: teleop\n    timeout: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			_, err := ParseScenario([]byte(tt.doc))
			g.Expect(err).To(MatchError(drive.ErrInvalidConfig))
		})
	}
}

func TestRunScenario(t *testing.T) {
	g := NewWithT(t)
	sc, err := ParseScenario([]byte(squareDance))
	g.Expect(err).NotTo(HaveOccurred())

	rig, err := NewRig(testConfig(), zap.NewNop().Sugar())
	g.Expect(err).NotTo(HaveOccurred())

	results, err := RunScenario(context.Background(), rig, sc, zap.NewNop().Sugar())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(results).To(HaveLen(5))

	for _, r := range results[:3] {
		g.Expect(r.Result.Finished).To(BeTrue(), r.Step.Action)
		g.Expect(r.Result.WatchdogTrips).To(BeZero())
		g.Expect(r.Faults).To(BeZero())
	}

	teleop := results[3].Result
	g.Expect(teleop.Finished).To(BeFalse())
	last := teleop.Samples[len(teleop.Samples)-1]
	g.Expect(last.LeftOutput).To(BeNumerically("~", 0.3, 1e-9))
	g.Expect(rig.Drivetrain.MoveState()).To(Equal(motion.Idle))

	stall := results[4].Result
	g.Expect(stall.WatchdogTrips).To(Equal(1))
	g.Expect(stall.Metrics["stale_output"]).To(BeZero())
	end := stall.Samples[len(stall.Samples)-1]
	g.Expect(end.LeftOutput).To(BeZero())
	g.Expect(end.RightOutput).To(BeZero())
}

func TestRunScenarioStopsOnRejectedMove(t *testing.T) {
	g := NewWithT(t)
	rig, err := NewRig(testConfig(), zap.NewNop().Sugar())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(rig.Drivetrain.StartStraightMove()).To(Succeed())
	_, err = rig.Drivetrain.StepStraightMove(100000)
	g.Expect(err).NotTo(HaveOccurred())

	sc := &Scenario{Name: "clash", Steps: []Step{
		{Action: ActionTurn, Degrees: 90},
		{Action: ActionStraight, Inches: 10},
	}}
	results, err := RunScenario(context.Background(), rig, sc, zap.NewNop().Sugar())
	g.Expect(err).To(MatchError(drive.ErrInvalidMove))
	g.Expect(results).To(HaveLen(1))
}

type fixedGyro float64

func (g fixedGyro) ReadHeadingDegrees() (float64, error) { return float64(g), nil }

func TestRigWithGyro(t *testing.T) {
	g := NewWithT(t)

	rig, err := NewRig(config.DefaultConfig(), zap.NewNop().Sugar(), WithGyro(fixedGyro(370)))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rig.Drivetrain.GyroStatus()).To(Succeed())

	h, err := rig.Drivetrain.Heading()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(h).To(BeNumerically("~", 10, 1e-9))
	raw, _ := rig.Drivetrain.RawAngle()
	g.Expect(raw).To(Equal(370.0))

	simRig, err := NewRig(config.DefaultConfig(), zap.NewNop().Sugar())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(simRig.Gyro).To(BeNil())
	h, err = simRig.Drivetrain.Heading()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(h).To(BeZero())
}

func TestRunMonteCarlo(t *testing.T) {
	g := NewWithT(t)
	cfg := testConfig()
	cfg.Plant.TimeConstant = 40 * time.Millisecond

	results, err := RunMonteCarlo(context.Background(), MonteCarloConfig{
		Base:         cfg,
		Inches:       12,
		Perturbation: 0.1,
		NumTrials:    4,
		Workers:      2,
		Seed:         7,
	}, zap.NewNop().Sugar())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(results).To(HaveLen(4))

	arrived, missed := MonteCarloStats(results)
	g.Expect(arrived + missed).To(Equal(4))
	for i, r := range results {
		g.Expect(r.TrialID).To(Equal(i))
		g.Expect(r.FreeSpeed).To(BeNumerically(">", 0))
		if r.Arrived {
			g.Expect(r.Duration).To(BeNumerically(">", 0))
			g.Expect(r.Error).To(BeNumerically("<", 2*float64(cfg.Motion.ToleranceTicks)))
		}
	}
}
