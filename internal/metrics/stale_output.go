package metrics

import "github.com/san-kum/diffdrive/internal/sim"

// StaleOutput counts samples that still carried motor output after the
// watchdog expired. Any non-zero value is a safety failure.
type StaleOutput struct {
	violations int
}

func NewStaleOutput() *StaleOutput { return &StaleOutput{} }

func (s *StaleOutput) Name() string { return "stale_output" }

func (s *StaleOutput) Observe(x sim.Sample) {
	if x.WatchdogExpired && (x.LeftOutput != 0 || x.RightOutput != 0) {
		s.violations++
	}
}

func (s *StaleOutput) Value() float64 { return float64(s.violations) }

func (s *StaleOutput) Reset() { s.violations = 0 }

// Standard is the metric set recorded for every run.
func Standard() []sim.Metric {
	return []sim.Metric{
		NewControlEffort(),
		NewSideMismatch(),
		NewOvershoot(),
		NewStaleOutput(),
	}
}
