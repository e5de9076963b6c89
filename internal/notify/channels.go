package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
)

// Cue names the sound played for an event category.
type Cue string

const (
	CueChime Cue = "chime"
	CueBell  Cue = "bell"
	CuePing  Cue = "ping"
)

// CueFor maps an event category to its sound.
func CueFor(c alerting.Category) Cue {
	switch c {
	case alerting.CategoryPriceAlert:
		return CueBell
	case alerting.CategorySystem:
		return CuePing
	default:
		return CueChime
	}
}

// Player plays an audible cue.
type Player interface {
	Play(cue Cue) error
}

// TerminalBell rings the terminal bell on the writer, once per cue strength.
type TerminalBell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalBell wraps w, usually the process stderr.
func NewTerminalBell(w io.Writer) *TerminalBell {
	return &TerminalBell{w: w}
}

// Play writes the bell characters for cue.
func (b *TerminalBell) Play(cue Cue) error {
	rings := 1
	if cue == CueBell {
		rings = 2
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < rings; i++ {
		if _, err := io.WriteString(b.w, "\a"); err != nil {
			return fmt.Errorf("ring bell: %w", err)
		}
	}
	return nil
}

// Pusher raises a platform-level notification.
type Pusher interface {
	Push(ctx context.Context, title, body string) error
}

// LogPusher records push notifications in the structured log; it stands in
// for an OS notification centre on headless hosts.
type LogPusher struct {
	logger zerolog.Logger
}

// NewLogPusher constructs a log-backed pusher.
func NewLogPusher(logger zerolog.Logger) *LogPusher {
	return &LogPusher{logger: logger.With().Str("component", "push").Logger()}
}

// Push logs the notification.
func (p *LogPusher) Push(_ context.Context, title, body string) error {
	p.logger.Info().Str("title", title).Msg(body)
	return nil
}

var (
	_ Player = (*TerminalBell)(nil)
	_ Pusher = (*LogPusher)(nil)
)
