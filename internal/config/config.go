package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/motion"
)

const (
	DefaultWheelDiameterIn      = 6.0
	DefaultTrackWidthIn         = 11.0
	DefaultGearRatio            = 1.0
	DefaultCountsPerRev         = 4096
	DefaultEncoderUnitsPerTurn  = 17598
	DefaultMaxRPM               = 5330
	DefaultToleranceTicks       = 25
	DefaultDeadband             = 0.2
	DefaultOpenLoopRamp         = 0.3
	DefaultDriveAbsMax          = 0.7
	DefaultLoopPeriod           = 20 * time.Millisecond
	DefaultWatchdogTimeout      = 100 * time.Millisecond
	DefaultWatchdogInterval     = 5 * time.Millisecond
	DefaultNeutralDeadband      = 0.001
	DefaultStraightCruise       = 1500
	DefaultStraightAcceleration = 750
	DefaultTurnCruise           = 1000
	DefaultTurnAcceleration     = 500
)

type Config struct {
	Robot    RobotConfig    `yaml:"robot"`
	Gains    GainsConfig    `yaml:"gains"`
	Motion   MotionConfig   `yaml:"motion"`
	Teleop   TeleopConfig   `yaml:"teleop"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Tuning   TuningConfig   `yaml:"tuning"`
	Plant    PlantConfig    `yaml:"plant"`

	LoopPeriod   time.Duration `yaml:"loop_period"`
	OpenLoopRamp float64       `yaml:"open_loop_ramp"`
}

type RobotConfig struct {
	WheelDiameterIn     float64 `yaml:"wheel_diameter_in"`
	TrackWidthIn        float64 `yaml:"track_width_in"`
	GearRatio           float64 `yaml:"gear_ratio"`
	CountsPerRev        int     `yaml:"counts_per_rev"`
	EncoderUnitsPerTurn int     `yaml:"encoder_units_per_turn"`
	MaxRPM              int     `yaml:"max_rpm"`
}

type GainsConfig struct {
	Drive         drive.GainProfile `yaml:"drive"`
	Turn          drive.GainProfile `yaml:"turn"`
	Velocity      drive.GainProfile `yaml:"velocity"`
	MotionProfile drive.GainProfile `yaml:"motion_profile"`
}

// Slot returns the profile configured for a gain slot.
func (g GainsConfig) Slot(slot drive.Slot) drive.GainProfile {
	switch slot {
	case drive.SlotTurn:
		return g.Turn
	case drive.SlotVelocity:
		return g.Velocity
	case drive.SlotMotionProfile:
		return g.MotionProfile
	default:
		return g.Drive
	}
}

type MotionConfig struct {
	Straight       drive.MotionParams `yaml:"straight"`
	Turn           drive.MotionParams `yaml:"turn"`
	ToleranceTicks int64              `yaml:"tolerance_ticks"`
}

type TeleopConfig struct {
	Deadband float64 `yaml:"deadband"`
	Squared  bool    `yaml:"squared"`
}

type WatchdogConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type TuningConfig struct {
	DriveMaxKey     string `yaml:"drive_max_key"`
	RampKey         string `yaml:"ramp_key"`
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
}

// PlantConfig shapes the simulated drivetrain.
type PlantConfig struct {
	// FreeSpeed is wheel speed at full output in ticks per 100ms. Zero
	// matches the drive slot's kF.
	FreeSpeed float64 `yaml:"free_speed"`
	// TimeConstant is the first-order lag of the wheel speed; zero is an
	// ideal response.
	TimeConstant    time.Duration `yaml:"time_constant"`
	NeutralDeadband float64       `yaml:"neutral_deadband"`
}

func DefaultConfig() *Config {
	driveGains := drive.GainProfile{KP: 0.0016, KF: 0.35, IntegralZone: 100, PeakOutput: 1, ClosedLoopPeriodMs: 1}
	return &Config{
		Robot: RobotConfig{
			WheelDiameterIn:     DefaultWheelDiameterIn,
			TrackWidthIn:        DefaultTrackWidthIn,
			GearRatio:           DefaultGearRatio,
			CountsPerRev:        DefaultCountsPerRev,
			EncoderUnitsPerTurn: DefaultEncoderUnitsPerTurn,
			MaxRPM:              DefaultMaxRPM,
		},
		Gains: GainsConfig{
			Drive:         driveGains,
			Turn:          drive.GainProfile{KP: 0.004, KF: 0.35, IntegralZone: 200, PeakOutput: 1, ClosedLoopPeriodMs: 1},
			Velocity:      drive.GainProfile{IntegralZone: 300, PeakOutput: 1, ClosedLoopPeriodMs: 1},
			MotionProfile: drive.GainProfile{KF: 0.35, IntegralZone: 400, PeakOutput: 1, ClosedLoopPeriodMs: 1},
		},
		Motion: MotionConfig{
			Straight:       drive.MotionParams{CruiseVelocity: DefaultStraightCruise, Acceleration: DefaultStraightAcceleration},
			Turn:           drive.MotionParams{CruiseVelocity: DefaultTurnCruise, Acceleration: DefaultTurnAcceleration},
			ToleranceTicks: DefaultToleranceTicks,
		},
		Teleop: TeleopConfig{Deadband: DefaultDeadband},
		Watchdog: WatchdogConfig{
			Timeout:       DefaultWatchdogTimeout,
			CheckInterval: DefaultWatchdogInterval,
		},
		Tuning: TuningConfig{
			DriveMaxKey:     "Drive Max",
			RampKey:         "Forward Limiter",
			MQTTTopicPrefix: "diffdrive/tuning",
			MQTTClientID:    "diffdrive",
		},
		Plant: PlantConfig{
			NeutralDeadband: DefaultNeutralDeadband,
		},
		LoopPeriod:   DefaultLoopPeriod,
		OpenLoopRamp: DefaultOpenLoopRamp,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first invalid field, wrapping drive.ErrInvalidConfig
// or drive.ErrInvalidGains.
func (c *Config) Validate() error {
	r := c.Robot
	if !(r.WheelDiameterIn > 0) || !(r.TrackWidthIn > 0) || !(r.GearRatio > 0) {
		return fmt.Errorf("%w: wheel diameter, track width and gear ratio must be positive", drive.ErrInvalidConfig)
	}
	if r.CountsPerRev <= 0 || r.EncoderUnitsPerTurn <= 0 || r.MaxRPM <= 0 {
		return fmt.Errorf("%w: encoder counts and max rpm must be positive", drive.ErrInvalidConfig)
	}
	for _, slot := range drive.Slots {
		if err := c.Gains.Slot(slot).Validate(); err != nil {
			return fmt.Errorf("%s gains: %w", slot, err)
		}
	}
	if err := c.MotionControl().Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.Teleop.Deadband) || c.Teleop.Deadband < 0 || c.Teleop.Deadband >= 1 {
		return fmt.Errorf("%w: deadband %v outside [0,1)", drive.ErrInvalidConfig, c.Teleop.Deadband)
	}
	if c.Watchdog.Timeout <= 0 || c.Watchdog.CheckInterval <= 0 {
		return fmt.Errorf("%w: watchdog timeout and check interval must be positive", drive.ErrInvalidConfig)
	}
	if c.Watchdog.CheckInterval >= c.Watchdog.Timeout {
		return fmt.Errorf("%w: watchdog check interval %s must be shorter than timeout %s",
			drive.ErrInvalidConfig, c.Watchdog.CheckInterval, c.Watchdog.Timeout)
	}
	if c.LoopPeriod <= 0 {
		return fmt.Errorf("%w: loop period must be positive", drive.ErrInvalidConfig)
	}
	if math.IsNaN(c.OpenLoopRamp) || c.OpenLoopRamp < 0 {
		return fmt.Errorf("%w: open loop ramp %v is negative", drive.ErrInvalidConfig, c.OpenLoopRamp)
	}
	if c.Plant.FreeSpeed < 0 || c.Plant.TimeConstant < 0 || c.Plant.NeutralDeadband < 0 || c.Plant.NeutralDeadband >= 1 {
		return fmt.Errorf("%w: invalid plant parameters", drive.ErrInvalidConfig)
	}
	return nil
}

func (c *Config) MotionControl() motion.Config {
	return motion.Config{
		Straight:       c.Motion.Straight,
		Turn:           c.Motion.Turn,
		ToleranceTicks: c.Motion.ToleranceTicks,
	}
}

// TicksPerInch is encoder counts per inch of wheel travel.
func (c *Config) TicksPerInch() float64 {
	return float64(c.Robot.CountsPerRev) * c.Robot.GearRatio / (math.Pi * c.Robot.WheelDiameterIn)
}

// TicksPerDegree is the per-side arc, in encoder units, of one degree of
// in-place rotation. EncoderUnitsPerTurn is measured on the robot.
func (c *Config) TicksPerDegree() float64 {
	return float64(c.Robot.EncoderUnitsPerTurn) / 360
}

func (c *Config) InchesToTicks(inches float64) int64 {
	return int64(math.Round(inches * c.TicksPerInch()))
}

func (c *Config) DegreesToArcTicks(degrees float64) int64 {
	return int64(math.Round(degrees * float64(c.Robot.EncoderUnitsPerTurn) / 360))
}

// MaxTicksPer100ms is the free speed at full output in controller velocity
// units.
func (c *Config) MaxTicksPer100ms() float64 {
	return float64(c.Robot.MaxRPM) / 600 * float64(c.Robot.CountsPerRev) * c.Robot.GearRatio
}
