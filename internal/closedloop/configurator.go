package closedloop

import (
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/san-kum/diffdrive/internal/drive"
)

type slotKey struct {
	side drive.Side
	slot drive.Slot
}

// Configurator pushes gain profiles and slot selection to the motor
// controllers and remembers the last configuration each side accepted.
type Configurator struct {
	sink   drive.MotorSink
	logger golog.Logger

	mu       sync.Mutex
	applied  map[slotKey]drive.GainProfile
	selected map[drive.Side]drive.Slot
	motion   map[drive.Side]drive.MotionParams
}

func New(sink drive.MotorSink, logger golog.Logger) *Configurator {
	return &Configurator{
		sink:     sink,
		logger:   logger,
		applied:  make(map[slotKey]drive.GainProfile),
		selected: make(map[drive.Side]drive.Slot),
		motion:   make(map[drive.Side]drive.MotionParams),
	}
}

// Apply configures the gains of one slot on one side. Identical gains are
// not resent. On a hardware failure the previous profile remains current.
func (c *Configurator) Apply(side drive.Side, slot drive.Slot, gains drive.GainProfile) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %s", drive.ErrInvalidGains, slot)
	}
	if err := gains.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := slotKey{side, slot}
	if prev, ok := c.applied[k]; ok && prev == gains {
		return nil
	}
	if err := c.sink.ConfigureGains(side, slot, gains); err != nil {
		c.logger.Warnw("gain push rejected, keeping previous profile",
			"side", side, "slot", slot, "error", err)
		return &drive.HardwareError{Op: "configure gains", Side: side, Slot: slot, Err: err}
	}
	c.applied[k] = gains
	c.logger.Debugw("gains applied", "side", side, "slot", slot,
		"kP", gains.KP, "kI", gains.KI, "kD", gains.KD, "kF", gains.KF)
	return nil
}

func (c *Configurator) ApplyBoth(slot drive.Slot, gains drive.GainProfile) error {
	return multierr.Combine(
		c.Apply(drive.Left, slot, gains),
		c.Apply(drive.Right, slot, gains),
	)
}

// Select makes slot the active slot for subsequent closed-loop commands on
// side. Gains are untouched.
func (c *Configurator) Select(side drive.Side, slot drive.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %s", drive.ErrInvalidGains, slot)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sink.SelectSlot(side, slot); err != nil {
		c.logger.Warnw("slot select rejected", "side", side, "slot", slot, "error", err)
		return &drive.HardwareError{Op: "select slot", Side: side, Slot: slot, Err: err}
	}
	c.selected[side] = slot
	return nil
}

func (c *Configurator) SelectBoth(slot drive.Slot) error {
	return multierr.Combine(
		c.Select(drive.Left, slot),
		c.Select(drive.Right, slot),
	)
}

// Override replaces the loop terms of an already applied slot without
// touching slot selection. Used for live tuning.
func (c *Configurator) Override(side drive.Side, slot drive.Slot, kp, ki, kd, kf float64) error {
	c.mu.Lock()
	prev, ok := c.applied[slotKey{side, slot}]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s side slot %s", drive.ErrSlotNotConfigured, side, slot)
	}
	return c.Apply(side, slot, prev.WithPIDF(kp, ki, kd, kf))
}

// ConfigureMotion pushes cruise velocity and acceleration to both sides.
func (c *Configurator) ConfigureMotion(params drive.MotionParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for _, side := range drive.Sides {
		if err := c.sink.ConfigureMotion(side, params); err != nil {
			c.logger.Warnw("motion params rejected", "side", side, "error", err)
			errs = multierr.Append(errs, &drive.HardwareError{Op: "configure motion", Side: side, Err: err})
			continue
		}
		c.motion[side] = params
	}
	return errs
}

func (c *Configurator) Gains(side drive.Side, slot drive.Slot) (drive.GainProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.applied[slotKey{side, slot}]
	return g, ok
}

func (c *Configurator) Selected(side drive.Side) (drive.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.selected[side]
	return s, ok
}

func (c *Configurator) Motion(side drive.Side) (drive.MotionParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.motion[side]
	return m, ok
}

// GetParams returns the applied loop terms of a slot for live adjustment.
func (c *Configurator) GetParams(side drive.Side, slot drive.Slot) map[string]float64 {
	g, ok := c.Gains(side, slot)
	if !ok {
		return nil
	}
	return map[string]float64{
		"kP": g.KP,
		"kI": g.KI,
		"kD": g.KD,
		"kF": g.KF,
	}
}

// SetParam adjusts a single loop term of an applied slot.
func (c *Configurator) SetParam(side drive.Side, slot drive.Slot, name string, value float64) error {
	g, ok := c.Gains(side, slot)
	if !ok {
		return fmt.Errorf("%w: %s side slot %s", drive.ErrSlotNotConfigured, side, slot)
	}
	switch name {
	case "kP":
		g.KP = value
	case "kI":
		g.KI = value
	case "kD":
		g.KD = value
	case "kF":
		g.KF = value
	default:
		return fmt.Errorf("unknown gain parameter %q", name)
	}
	return c.Override(side, slot, g.KP, g.KI, g.KD, g.KF)
}
