package drive

import (
	"errors"
	"fmt"
)

// Domain errors for drivetrain operations.
var (
	// ErrSensorUnavailable indicates the heading sensor failed to initialise
	// or stopped answering. Callers must not read it as a zero heading.
	ErrSensorUnavailable = errors.New("drive: heading sensor unavailable")

	// ErrInvalidMove indicates a move request that conflicts with the move
	// in progress, or a step with no matching move started.
	ErrInvalidMove = errors.New("drive: invalid move request")

	// ErrInvalidGains indicates a gain profile outside its valid ranges.
	ErrInvalidGains = errors.New("drive: invalid gain profile")

	// ErrSlotNotConfigured indicates an override of a slot that was never applied.
	ErrSlotNotConfigured = errors.New("drive: gain slot not configured")

	// ErrInvalidConfig indicates a configuration value outside its valid range.
	ErrInvalidConfig = errors.New("drive: invalid configuration")
)

// HardwareError wraps a rejected push to the motor controller. It is never
// fatal: the previous configuration stays in effect.
type HardwareError struct {
	Op   string
	Side Side
	Slot Slot
	Err  error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("drive: %s on %s side (slot %s): %v", e.Op, e.Side, e.Slot, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// IsHardware reports whether err carries a HardwareError.
func IsHardware(err error) bool {
	var hw *HardwareError
	return errors.As(err, &hw)
}
