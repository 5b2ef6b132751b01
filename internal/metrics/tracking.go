package metrics

import (
	"math"

	"github.com/san-kum/diffdrive/internal/sim"
)

// SideMismatch is the mean difference in travel between the two sides.
// During a turn the right side runs mirrored, so it is compared by
// magnitude.
type SideMismatch struct {
	sum     float64
	samples int
}

func NewSideMismatch() *SideMismatch { return &SideMismatch{} }

func (m *SideMismatch) Name() string { return "side_mismatch" }

func (m *SideMismatch) Observe(s sim.Sample) {
	l, r := float64(s.LeftTicks), float64(s.RightTicks)
	if s.ClosedLoop && s.LeftSetpoint == -s.RightSetpoint && s.LeftSetpoint != 0 {
		r = -r
	}
	m.sum += math.Abs(l - r)
	m.samples++
}

func (m *SideMismatch) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *SideMismatch) Reset() {
	m.sum = 0
	m.samples = 0
}

// Overshoot is the largest travel past a closed-loop setpoint, in ticks.
type Overshoot struct {
	worst float64
}

func NewOvershoot() *Overshoot { return &Overshoot{} }

func (o *Overshoot) Name() string { return "overshoot" }

func (o *Overshoot) Observe(s sim.Sample) {
	if !s.ClosedLoop {
		return
	}
	o.worst = math.Max(o.worst, past(float64(s.LeftTicks), s.LeftSetpoint))
	o.worst = math.Max(o.worst, past(float64(s.RightTicks), s.RightSetpoint))
}

func past(pos, setpoint float64) float64 {
	switch {
	case setpoint > 0:
		return pos - setpoint
	case setpoint < 0:
		return setpoint - pos
	default:
		return 0
	}
}

func (o *Overshoot) Value() float64 { return o.worst }

func (o *Overshoot) Reset() { o.worst = 0 }
