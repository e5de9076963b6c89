// Package notify fans alert events out to the in-app inbox, the audible cue,
// platform push and external integrations.
package notify

import (
	"chainalerts/internal/alerting"
)

// Inbox is the in-app notification list, newest first and bounded.
type Inbox struct {
	items *alerting.History
}

// NewInbox constructs an inbox holding at most capacity notifications.
func NewInbox(capacity int) *Inbox {
	return &Inbox{items: alerting.NewHistory(capacity)}
}

// Add stores ev as unread.
func (i *Inbox) Add(ev alerting.Event) {
	ev.Status = alerting.StatusUnread
	i.items.Prepend(ev)
}

// List returns every notification, newest first.
func (i *Inbox) List() []alerting.Event {
	return i.items.List()
}

// Visible returns notifications that were not dismissed.
func (i *Inbox) Visible() []alerting.Event {
	all := i.items.List()
	out := all[:0]
	for _, ev := range all {
		if ev.Status != alerting.StatusDismissed {
			out = append(out, ev)
		}
	}
	return out
}

// UnreadCount counts unread notifications.
func (i *Inbox) UnreadCount() int {
	n := 0
	for _, ev := range i.items.List() {
		if ev.Status == alerting.StatusUnread {
			n++
		}
	}
	return n
}

// MarkRead flags one notification as read.
func (i *Inbox) MarkRead(id string) bool {
	return i.items.Update(id, func(ev *alerting.Event) {
		if ev.Status == alerting.StatusUnread {
			ev.Status = alerting.StatusRead
		}
	})
}

// MarkAllRead flags every unread notification as read.
func (i *Inbox) MarkAllRead() {
	i.items.UpdateAll(func(ev *alerting.Event) {
		if ev.Status == alerting.StatusUnread {
			ev.Status = alerting.StatusRead
		}
	})
}

// Dismiss hides a notification.
func (i *Inbox) Dismiss(id string) bool {
	return i.items.Update(id, func(ev *alerting.Event) {
		ev.Status = alerting.StatusDismissed
	})
}

// Clear drops every notification.
func (i *Inbox) Clear() {
	i.items.Clear()
}

// Restore replaces the contents with persisted notifications, newest first.
func (i *Inbox) Restore(events []alerting.Event) {
	i.items.Replace(events)
}
