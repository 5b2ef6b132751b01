package sensors

import (
	"fmt"
	"math"
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/san-kum/diffdrive/internal/drive"
)

// NormalizeHeading wraps an accumulated angle into (-180, 180] using the
// IEEE remainder, so the result keeps its sign symmetry around zero.
func NormalizeHeading(deg float64) float64 {
	r := math.Remainder(deg, 360)
	if r <= -180 {
		r += 360
	}
	return r
}

// Model is a read-only view of the drivetrain's encoders and heading sensor.
// It owns encoder zeroing.
type Model struct {
	enc    drive.Encoders
	gyro   drive.Gyro
	logger golog.Logger

	mu      sync.Mutex
	offsets [2]int64

	gyroStatus error
}

// New builds the model. A nil gyro means the heading sensor failed to
// initialise; that is reported once here and every heading read afterwards
// returns drive.ErrSensorUnavailable.
func New(enc drive.Encoders, gyro drive.Gyro, logger golog.Logger) *Model {
	m := &Model{enc: enc, gyro: gyro, logger: logger}
	if gyro == nil {
		m.gyroStatus = drive.ErrSensorUnavailable
		logger.Errorw("heading sensor failed to initialise; heading reads will report unavailable")
	}
	return m
}

func NewFromSource(src drive.SensorSource, logger golog.Logger) *Model {
	return New(src, src, logger)
}

// GyroStatus is nil when the heading sensor initialised.
func (m *Model) GyroStatus() error {
	return m.gyroStatus
}

// ResetEncoders zeroes both sides as one step for readers. A side whose
// hardware reset is rejected is zeroed in software instead, so no reader
// ever sees one side reset and the other not.
func (m *Model) ResetEncoders() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for _, side := range drive.Sides {
		if err := m.enc.ResetPosition(side); err != nil {
			m.offsets[side] = m.enc.ReadTicks(side)
			m.logger.Warnw("encoder reset rejected, zeroing in software",
				"side", side, "offset", m.offsets[side], "error", err)
			errs = multierr.Append(errs, &drive.HardwareError{Op: "reset position", Side: side, Err: err})
			continue
		}
		m.offsets[side] = 0
	}
	return errs
}

// PositionTicks returns the signed tick count since the last reset.
func (m *Model) PositionTicks(side drive.Side) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enc.ReadTicks(side) - m.offsets[side]
}

// HardwareTicks maps a position in the reset frame back to the encoder's own
// count, which is what the motor controller closes its loop on. The two
// differ only on a side whose hardware reset was rejected.
func (m *Model) HardwareTicks(side drive.Side, ticks int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ticks + m.offsets[side]
}

// Heading returns the gyro angle normalised into (-180, 180].
func (m *Model) Heading() (float64, error) {
	raw, err := m.RawAngle()
	if err != nil {
		return 0, err
	}
	return NormalizeHeading(raw), nil
}

// RawAngle returns the unbounded accumulated angle.
func (m *Model) RawAngle() (float64, error) {
	if m.gyroStatus != nil {
		return 0, m.gyroStatus
	}
	deg, err := m.gyro.ReadHeadingDegrees()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", drive.ErrSensorUnavailable, err)
	}
	return deg, nil
}

// Snapshot reads both encoders under one lock together with the heading.
func (m *Model) Snapshot() drive.SensorReading {
	m.mu.Lock()
	r := drive.SensorReading{
		LeftTicks:  m.enc.ReadTicks(drive.Left) - m.offsets[drive.Left],
		RightTicks: m.enc.ReadTicks(drive.Right) - m.offsets[drive.Right],
	}
	m.mu.Unlock()

	if h, err := m.Heading(); err == nil {
		r.HeadingDegrees = h
		r.HeadingValid = true
	}
	return r
}
