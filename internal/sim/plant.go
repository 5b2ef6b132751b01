package sim

import (
	"errors"
	"math"
	"sync"
	"time"

	"go.einride.tech/pid"

	"github.com/san-kum/diffdrive/internal/config"
	"github.com/san-kum/diffdrive/internal/drive"
)

// Talon-style units: closed-loop terms act on sensor ticks and produce
// output on a 1023 full scale; velocities are ticks per 100ms.
const (
	fullScale     = 1023.0
	per100ms      = 10.0
	defaultPeriod = time.Millisecond
)

var ErrInjectedFault = errors.New("sim: injected fault")

type PlantConfig struct {
	// FreeSpeed is wheel speed at full output in ticks per 100ms.
	FreeSpeed       float64
	TimeConstant    time.Duration
	NeutralDeadband float64
	TicksPerDegree  float64
}

type controlMode int

const (
	modeOpenLoop controlMode = iota
	modeMotionMagic
)

type profile struct {
	pos, vel float64
}

// step advances a trapezoidal profile toward target in ticks and ticks/s.
func (p *profile) step(target, cruise, accel, dt float64) {
	d := target - p.pos
	if d == 0 && p.vel == 0 {
		return
	}
	dir := 1.0
	if d < 0 {
		dir = -1
	}

	desired := dir * math.Min(cruise, math.Sqrt(2*accel*math.Abs(d)))
	dv := math.Max(-accel*dt, math.Min(accel*dt, desired-p.vel))
	p.vel += dv
	p.pos += p.vel * dt

	if (target-p.pos)*dir <= 0 {
		p.pos = target
		p.vel = 0
	}
}

type side struct {
	gains  [drive.NumSlots]drive.GainProfile
	slot   drive.Slot
	motion drive.MotionParams
	ramp   float64

	mode   controlMode
	demand float64
	target float64
	prof   profile
	loop   pid.Controller

	pos, vel float64
	out      float64
}

// Plant is a simulated differential drivetrain with one smart motor
// controller per side. It serves as both the motor sink and the sensor
// source of the control core.
type Plant struct {
	cfg PlantConfig

	mu      sync.Mutex
	sides   [2]side
	heading float64

	failConfig bool
	failReset  [2]bool
	failGyro   bool
}

func NewPlant(cfg PlantConfig) *Plant {
	if cfg.TicksPerDegree <= 0 {
		cfg.TicksPerDegree = 1
	}
	return &Plant{cfg: cfg}
}

func (p *Plant) FailConfig(on bool) {
	p.mu.Lock()
	p.failConfig = on
	p.mu.Unlock()
}

func (p *Plant) FailReset(s drive.Side, on bool) {
	p.mu.Lock()
	p.failReset[s] = on
	p.mu.Unlock()
}

func (p *Plant) FailGyro(on bool) {
	p.mu.Lock()
	p.failGyro = on
	p.mu.Unlock()
}

func (p *Plant) SetClosedLoopTarget(s drive.Side, positionTicks float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sd := &p.sides[s]
	if sd.mode != modeMotionMagic {
		sd.prof = profile{pos: sd.pos, vel: sd.vel}
		sd.loop.Reset()
		sd.mode = modeMotionMagic
	}
	sd.target = positionTicks
	return nil
}

// SetOutput switches the side to open-loop percent output. A zero demand
// is neutral and takes effect immediately.
func (p *Plant) SetOutput(s drive.Side, value float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sd := &p.sides[s]
	sd.mode = modeOpenLoop
	sd.demand = math.Max(-1, math.Min(1, value))
	if sd.demand == 0 {
		sd.out = 0
	}
	return nil
}

func (p *Plant) ConfigureGains(s drive.Side, slot drive.Slot, gains drive.GainProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failConfig {
		return ErrInjectedFault
	}
	p.sides[s].gains[slot] = gains
	return nil
}

func (p *Plant) SelectSlot(s drive.Side, slot drive.Slot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failConfig {
		return ErrInjectedFault
	}
	if p.sides[s].slot != slot {
		p.sides[s].loop.Reset()
	}
	p.sides[s].slot = slot
	return nil
}

func (p *Plant) ConfigureMotion(s drive.Side, params drive.MotionParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failConfig {
		return ErrInjectedFault
	}
	p.sides[s].motion = params
	return nil
}

func (p *Plant) ConfigureOpenLoopRamp(s drive.Side, seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failConfig {
		return ErrInjectedFault
	}
	p.sides[s].ramp = math.Max(0, seconds)
	return nil
}

func (p *Plant) ReadTicks(s drive.Side) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(math.Round(p.sides[s].pos))
}

func (p *Plant) ResetPosition(s drive.Side) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failReset[s] {
		return ErrInjectedFault
	}
	sd := &p.sides[s]
	sd.prof.pos -= sd.pos
	sd.pos = 0
	return nil
}

func (p *Plant) ReadHeadingDegrees() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGyro {
		return 0, ErrInjectedFault
	}
	return p.heading, nil
}

// Output is the applied percent output of a side.
func (p *Plant) Output(s drive.Side) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sides[s].out
}

// Setpoint is the closed-loop target of a side, and false in open loop.
func (p *Plant) Setpoint(s drive.Side) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sd := p.sides[s]
	return sd.target, sd.mode == modeMotionMagic
}

// FreeSpeed is the wheel speed at full output in ticks per 100ms.
func (p *Plant) FreeSpeed() float64 { return p.cfg.FreeSpeed }

func (p *Plant) SelectedSlot(s drive.Side) drive.Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sides[s].slot
}

func (p *Plant) Ramp(s drive.Side) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sides[s].ramp
}

// Step advances the plant by dt in 1ms increments, the motor controllers'
// native loop rate.
func (p *Plant) Step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for dt > 0 {
		h := defaultPeriod
		if h > dt {
			h = dt
		}
		var moved [2]float64
		for i := range p.sides {
			moved[i] = p.stepSide(&p.sides[i], h)
		}
		p.heading += (moved[drive.Left] - moved[drive.Right]) / 2 / p.cfg.TicksPerDegree
		dt -= h
	}
}

func (p *Plant) stepSide(sd *side, h time.Duration) float64 {
	secs := h.Seconds()

	switch sd.mode {
	case modeMotionMagic:
		sd.out = p.closedLoop(sd, h)
	default:
		sd.out = rampToward(sd.out, sd.demand, sd.ramp, secs)
	}
	if math.Abs(sd.out) < p.cfg.NeutralDeadband {
		sd.out = 0
	}

	commanded := sd.out * p.cfg.FreeSpeed * per100ms
	if tau := p.cfg.TimeConstant.Seconds(); tau > 0 {
		sd.vel += (commanded - sd.vel) * (1 - math.Exp(-secs/tau))
	} else {
		sd.vel = commanded
	}
	d := sd.vel * secs
	sd.pos += d
	return d
}

func (p *Plant) closedLoop(sd *side, h time.Duration) float64 {
	g := sd.gains[sd.slot]
	period := time.Duration(g.ClosedLoopPeriodMs) * time.Millisecond
	if period <= 0 {
		period = defaultPeriod
	}

	sd.prof.step(sd.target, sd.motion.CruiseVelocity*per100ms, sd.motion.Acceleration*per100ms, h.Seconds())

	if g.IntegralZone > 0 && math.Abs(sd.prof.pos-sd.pos) > g.IntegralZone {
		sd.loop.Reset()
	}
	ps := period.Seconds()
	sd.loop.Config = pid.ControllerConfig{
		ProportionalGain: g.KP,
		IntegralGain:     g.KI / ps,
		DerivativeGain:   g.KD * ps,
	}
	sd.loop.Update(pid.ControllerInput{
		ReferenceSignal:  sd.prof.pos,
		ActualSignal:     sd.pos,
		SamplingInterval: h,
	})

	native := g.KF*sd.prof.vel/per100ms + sd.loop.State.ControlSignal
	return math.Max(-g.PeakOutput, math.Min(g.PeakOutput, native/fullScale))
}

func rampToward(current, demand, rampSeconds, dt float64) float64 {
	if demand == 0 || rampSeconds <= 0 {
		return demand
	}
	step := dt / rampSeconds
	switch {
	case demand > current:
		return math.Min(demand, current+step)
	case demand < current:
		return math.Max(demand, current-step)
	default:
		return current
	}
}

// NewPlantFromConfig builds a plant matching the robot description.
func NewPlantFromConfig(cfg *config.Config) *Plant {
	free := cfg.Plant.FreeSpeed
	if free <= 0 {
		free = cfg.MaxTicksPer100ms()
		if kf := cfg.Gains.Drive.KF; kf > 0 {
			free = fullScale / kf
		}
	}
	return NewPlant(PlantConfig{
		FreeSpeed:       free,
		TimeConstant:    cfg.Plant.TimeConstant,
		NeutralDeadband: cfg.Plant.NeutralDeadband,
		TicksPerDegree:  cfg.TicksPerDegree(),
	})
}
