package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chainalerts/internal/alerting"
	"chainalerts/internal/metrics"
	"chainalerts/internal/rules"
)

const (
	ChannelInApp = "in_app"
	ChannelSound = "sound"
	ChannelPush  = "push"
)

// Integrations hands events to external integrations.
type Integrations interface {
	Dispatch(ctx context.Context, ev alerting.Event) []alerting.Delivery
}

// Options toggle the local channels.
type Options struct {
	Sound bool
	Push  bool
}

// Router delivers each event independently to every enabled channel.
type Router struct {
	inbox        *Inbox
	player       Player
	pusher       Pusher
	integrations Integrations
	opts         Options
	logger       zerolog.Logger

	mu            sync.RWMutex
	pushPermitted bool
}

// NewRouter wires a router. Nil collaborators disable their channel.
func NewRouter(inbox *Inbox, player Player, pusher Pusher, integrations Integrations, opts Options, logger zerolog.Logger) *Router {
	return &Router{
		inbox:        inbox,
		player:       player,
		pusher:       pusher,
		integrations: integrations,
		opts:         opts,
		logger:       logger.With().Str("component", "router").Logger(),
	}
}

// SetPushPermission records whether the platform granted push permission.
func (r *Router) SetPushPermission(granted bool) {
	r.mu.Lock()
	r.pushPermitted = granted
	r.mu.Unlock()
}

// Inbox exposes the in-app notification list.
func (r *Router) Inbox() *Inbox {
	return r.inbox
}

// Route delivers ev to the channels enabled on its rule or alert. A failing
// channel is logged and reported but never stops the others.
func (r *Router) Route(ctx context.Context, ev alerting.Event, channels rules.Channels) []alerting.Delivery {
	out := make([]alerting.Delivery, 0, 4)

	if channels.InApp {
		out = append(out, r.deliverInApp(ev))
	}
	if channels.Sound {
		out = append(out, r.deliverSound(ev))
	}
	if channels.Push {
		out = append(out, r.deliverPush(ctx, ev))
	}
	if channels.External && r.integrations != nil {
		out = append(out, r.integrations.Dispatch(ctx, ev)...)
	}

	for _, d := range out {
		metrics.DeliveriesTotal.WithLabelValues(channelLabel(d.Channel), string(d.Outcome)).Inc()
		if d.Outcome == alerting.Failed {
			r.logger.Warn().Err(d.Err).
				Str("channel", d.Channel).
				Str("event_id", ev.ID).
				Msg("channel delivery failed")
		}
	}
	if r.inbox != nil {
		metrics.UnreadNotifications.Set(float64(r.inbox.UnreadCount()))
	}
	return out
}

func (r *Router) deliverInApp(ev alerting.Event) alerting.Delivery {
	if r.inbox == nil {
		return alerting.SkippedFor(ChannelInApp, "inbox not configured")
	}
	r.inbox.Add(ev)
	return alerting.DeliveredTo(ChannelInApp)
}

func (r *Router) deliverSound(ev alerting.Event) alerting.Delivery {
	if !r.opts.Sound || r.player == nil {
		return alerting.SkippedFor(ChannelSound, "sound disabled")
	}
	if err := r.player.Play(CueFor(ev.Category)); err != nil {
		return alerting.FailedWith(ChannelSound, err)
	}
	return alerting.DeliveredTo(ChannelSound)
}

func (r *Router) deliverPush(ctx context.Context, ev alerting.Event) alerting.Delivery {
	r.mu.RLock()
	permitted := r.pushPermitted
	r.mu.RUnlock()

	if !r.opts.Push || r.pusher == nil {
		return alerting.SkippedFor(ChannelPush, "push disabled")
	}
	if !permitted {
		return alerting.SkippedFor(ChannelPush, "permission not granted")
	}
	if err := r.pusher.Push(ctx, ev.Title, ev.Message); err != nil {
		return alerting.FailedWith(ChannelPush, err)
	}
	return alerting.DeliveredTo(ChannelPush)
}

// channelLabel keeps metric cardinality bounded across integrations.
func channelLabel(channel string) string {
	switch channel {
	case ChannelInApp, ChannelSound, ChannelPush:
		return channel
	default:
		return "integration"
	}
}

var _ alerting.Sink = (*Router)(nil)
