package watchdog

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
)

const notTripped = math.MinInt64

// Watchdog zeroes motor outputs when the control loop stops feeding it.
// Feed is called from the control loop; Check runs on its own schedule,
// usually from Run. The last feed time is a single atomic word, so a check
// racing a feed sees either the old or the new time, never a torn value.
type Watchdog struct {
	timeout time.Duration
	trip    func()
	logger  golog.Logger

	epoch time.Time
	now   func() time.Time

	lastFed    atomic.Int64
	trippedFor atomic.Int64
	trips      atomic.Int64
}

type Option func(*Watchdog)

// WithClock replaces the monotonic clock.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// New arms the watchdog as if it had just been fed.
func New(timeout time.Duration, trip func(), logger golog.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		trip:    trip,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.epoch = w.now()
	w.trippedFor.Store(notTripped)
	w.Feed()
	return w
}

func (w *Watchdog) elapsed() int64 {
	return int64(w.now().Sub(w.epoch))
}

func (w *Watchdog) Feed() {
	w.lastFed.Store(w.elapsed())
}

func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Expired reports whether the last feed is at least one timeout old.
func (w *Watchdog) Expired() bool {
	return w.elapsed()-w.lastFed.Load() >= int64(w.timeout)
}

// Check zeroes the outputs if the watchdog has expired and has not already
// tripped for the same feed. It returns true only on the tripping call.
func (w *Watchdog) Check() bool {
	last := w.lastFed.Load()
	age := w.elapsed() - last
	if age < int64(w.timeout) {
		return false
	}
	if w.trippedFor.Swap(last) == last {
		return false
	}

	w.trip()
	w.trips.Add(1)
	w.logger.Warnw("watchdog expired, motor outputs zeroed",
		"since_feed", time.Duration(age), "timeout", w.timeout)
	return true
}

// Trips counts expiry events since construction.
func (w *Watchdog) Trips() int64 { return w.trips.Load() }

// Run checks at the given interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}
