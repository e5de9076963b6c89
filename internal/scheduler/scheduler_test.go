package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { close(f.stopped) }

func startScheduler(t *testing.T, tick TickFunc) (*Scheduler, *fakeTicker, context.CancelFunc, chan error) {
	t.Helper()
	ft := newFakeTicker()
	s := New(Options{Interval: time.Second, NewTicker: func(time.Duration) Ticker { return ft }}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, tick) }()
	return s, ft, cancel, done
}

func waitFor(t *testing.T, ch <-chan time.Time) time.Time {
	t.Helper()
	select {
	case at := <-ch:
		return at
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return time.Time{}
	}
}

func TestRunInvokesTickPerInterval(t *testing.T) {
	ran := make(chan time.Time, 4)
	_, ft, cancel, done := startScheduler(t, func(_ context.Context, at time.Time) error {
		ran <- at
		return nil
	})
	defer cancel()

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ft.c <- first
	if got := waitFor(t, ran); !got.Equal(first) {
		t.Fatalf("tick at %s, want %s", got, first)
	}
	ft.c <- first.Add(time.Second)
	waitFor(t, ran)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	select {
	case <-ft.stopped:
	default:
		t.Fatal("ticker not stopped on teardown")
	}
}

func TestManualTriggerSkipsNextTick(t *testing.T) {
	ran := make(chan time.Time, 4)
	var calls int32
	s, ft, cancel, _ := startScheduler(t, func(_ context.Context, at time.Time) error {
		atomic.AddInt32(&calls, 1)
		ran <- at
		return nil
	})
	defer cancel()

	if !s.Trigger() {
		t.Fatal("first trigger should be accepted")
	}
	waitFor(t, ran)

	skipped := time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC)
	ft.c <- skipped
	next := skipped.Add(time.Second)
	ft.c <- next

	if got := waitFor(t, ran); !got.Equal(next) {
		t.Fatalf("expected the tick after the skipped one, got %s", got)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 executions, got %d", n)
	}
}

func TestTicksNeverOverlap(t *testing.T) {
	release := make(chan struct{})
	ran := make(chan time.Time, 8)
	var active, maxActive int32
	s, ft, cancel, _ := startScheduler(t, func(_ context.Context, at time.Time) error {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		<-release
		atomic.AddInt32(&active, -1)
		ran <- at
		return nil
	})
	defer cancel()

	go func() { ft.c <- time.Now() }()
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&active) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tick never started")
		}
		time.Sleep(time.Millisecond)
	}
	s.Trigger()
	if s.Trigger() {
		t.Fatal("second pending trigger should coalesce")
	}

	close(release)
	waitFor(t, ran)
	waitFor(t, ran)

	if atomic.LoadInt32(&maxActive) != 1 {
		t.Fatalf("ticks overlapped: max concurrency %d", maxActive)
	}
}

func TestTickErrorsDoNotStopLoop(t *testing.T) {
	ran := make(chan time.Time, 4)
	_, ft, cancel, _ := startScheduler(t, func(_ context.Context, at time.Time) error {
		ran <- at
		return errors.New("feed down")
	})
	defer cancel()

	ft.c <- time.Now()
	waitFor(t, ran)
	ft.c <- time.Now()
	waitFor(t, ran)
}
