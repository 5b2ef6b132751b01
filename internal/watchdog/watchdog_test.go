package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type outputs struct {
	mu          sync.Mutex
	left, right float64
}

func (o *outputs) set(l, r float64) {
	o.mu.Lock()
	o.left, o.right = l, r
	o.mu.Unlock()
}

func (o *outputs) get() (float64, float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.left, o.right
}

func TestFailSafe(t *testing.T) {
	clock := newFakeClock()
	out := &outputs{}
	w := New(100*time.Millisecond, func() { out.set(0, 0) }, zap.NewNop().Sugar(), WithClock(clock.Now))

	w.Feed()
	out.set(0.6, 0.6)

	clock.Advance(50 * time.Millisecond)
	if w.Check() {
		t.Fatal("tripped at 50ms")
	}
	if l, r := out.get(); l == 0 || r == 0 {
		t.Fatalf("output zeroed early: %v/%v", l, r)
	}

	clock.Advance(50 * time.Millisecond)
	if !w.Check() {
		t.Fatal("expected trip at 100ms")
	}
	if l, r := out.get(); l != 0 || r != 0 {
		t.Fatalf("output not zeroed: %v/%v", l, r)
	}
	if !w.Expired() {
		t.Error("Expired() should be true")
	}
}

func TestTripsOncePerExpiry(t *testing.T) {
	clock := newFakeClock()
	core, logs := observer.New(zapcore.WarnLevel)
	var tripped int
	w := New(100*time.Millisecond, func() { tripped++ }, zap.New(core).Sugar(), WithClock(clock.Now))

	clock.Advance(150 * time.Millisecond)
	for i := 0; i < 10; i++ {
		w.Check()
		clock.Advance(20 * time.Millisecond)
	}
	if tripped != 1 || w.Trips() != 1 {
		t.Fatalf("tripped %d times (counter %d), want 1", tripped, w.Trips())
	}
	if logs.Len() != 1 {
		t.Errorf("expected one report, got %d", logs.Len())
	}

	w.Feed()
	if w.Check() {
		t.Fatal("tripped right after feed")
	}
	clock.Advance(100 * time.Millisecond)
	if !w.Check() {
		t.Fatal("did not re-arm after feed")
	}
	if tripped != 2 {
		t.Errorf("tripped %d times, want 2", tripped)
	}
}

func TestRegularFeedingNeverTrips(t *testing.T) {
	clock := newFakeClock()
	var tripped int
	w := New(100*time.Millisecond, func() { tripped++ }, zap.NewNop().Sugar(), WithClock(clock.Now))

	for i := 0; i < 200; i++ {
		clock.Advance(20 * time.Millisecond)
		w.Feed()
		w.Check()
	}
	if tripped != 0 {
		t.Errorf("tripped %d times while fed", tripped)
	}
}

func TestArmedAtConstruction(t *testing.T) {
	clock := newFakeClock()
	var tripped int
	w := New(100*time.Millisecond, func() { tripped++ }, zap.NewNop().Sugar(), WithClock(clock.Now))

	clock.Advance(99 * time.Millisecond)
	w.Check()
	clock.Advance(time.Millisecond)
	w.Check()
	if tripped != 1 {
		t.Errorf("tripped %d times, want 1", tripped)
	}
}

func TestRunConcurrentWithFeed(t *testing.T) {
	var tripped atomic.Int64
	w := New(200*time.Millisecond, func() { tripped.Add(1) }, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, time.Millisecond)
		close(done)
	}()

	stop := time.After(50 * time.Millisecond)
feeding:
	for {
		select {
		case <-stop:
			break feeding
		default:
			w.Feed()
			time.Sleep(time.Millisecond)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for tripped.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if tripped.Load() != 1 {
		t.Errorf("tripped %d times after feeding stopped, want 1", tripped.Load())
	}
}
