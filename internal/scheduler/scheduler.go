package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chainalerts/internal/metrics"
)

// TickFunc is invoked on every interval and on manual triggers.
type TickFunc func(ctx context.Context, at time.Time) error

// Ticker delivers interval ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a ticker for the interval.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.Ticker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	Immediate    bool
	NewTicker    TickerFactory
}

// Scheduler drives one non-overlapping timeline of ticks. A manual trigger
// runs a tick right away and replaces the next automatic one.
type Scheduler struct {
	opts    Options
	trigger chan struct{}
	logger  zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewRealTicker
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Scheduler{
		opts:    opts,
		trigger: make(chan struct{}, 1),
		logger:  logger.With().Str("component", "scheduler").Str("timeline", opts.Name).Logger(),
	}
}

// Trigger requests a manual tick. It never blocks; a request made while one
// is already pending is coalesced and false is returned.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks, invoking tick on every interval until ctx is cancelled. The
// ticker is stopped before Run returns.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ticker := s.opts.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if s.opts.Immediate {
		s.execute(ctx, tick, time.Now().UTC(), "startup")
	}

	skipNext := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
			s.execute(ctx, tick, time.Now().UTC(), "manual")
			skipNext = true
		case at := <-ticker.C():
			if skipNext {
				skipNext = false
				metrics.TicksCoalescedTotal.Inc()
				s.logger.Debug().Time("at", at).Msg("skipping tick after manual refresh")
				continue
			}
			s.execute(ctx, tick, s.bucketStart(at.UTC()), "interval")
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time, reason string) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug().Time("at", at).Str("reason", reason).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Str("reason", reason).Msg("tick execution failed")
	}
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
