// Package alerting evaluates rules and price alerts against metric snapshots
// and records the resulting alert events.
package alerting

import (
	"time"

	"chainalerts/internal/condition"
	"chainalerts/internal/severity"
)

// Category tells where an event originated.
type Category string

const (
	CategoryRule       Category = "rule"
	CategoryPriceAlert Category = "price_alert"
	CategorySystem     Category = "system"
)

// Status is the read state of an event in the notification list.
type Status string

const (
	StatusUnread    Status = "unread"
	StatusRead      Status = "read"
	StatusDismissed Status = "dismissed"
)

// Action is a follow-up a UI can offer next to an event.
type Action struct {
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// Metadata links an event back to what triggered it.
type Metadata struct {
	RuleID       string         `json:"ruleId,omitempty"`
	PriceAlertID string         `json:"priceAlertId,omitempty"`
	SourceID     string         `json:"sourceId,omitempty"`
	SourceURL    string         `json:"sourceUrl,omitempty"`
	MetricKey    string         `json:"metricKey,omitempty"`
	Instrument   string         `json:"instrument,omitempty"`
	Condition    condition.Type `json:"condition,omitempty"`
	Current      float64        `json:"current"`
	Previous     float64        `json:"previous"`
	HasPrevious  bool           `json:"hasPrevious"`
	Threshold    float64        `json:"threshold,omitempty"`
	ChangePct    float64        `json:"changePct,omitempty"`
}

// Event is one fired alert or system notice.
type Event struct {
	ID        string         `json:"id"`
	Category  Category       `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  severity.Level `json:"severity"`
	Status    Status         `json:"status"`
	Actions   []Action       `json:"actions,omitempty"`
	Metadata  Metadata       `json:"metadata"`
}

// SourceID returns the originating source of the event, if any.
func (e Event) SourceID() string {
	return e.Metadata.SourceID
}

func (e Event) clone() Event {
	e.Actions = append([]Action(nil), e.Actions...)
	return e
}

// Outcome classifies a delivery attempt.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Delivery is the typed result of handing an event to one channel.
type Delivery struct {
	Channel string
	Outcome Outcome
	Reason  string
	Err     error
}

// DeliveredTo builds a successful delivery.
func DeliveredTo(channel string) Delivery {
	return Delivery{Channel: channel, Outcome: Delivered}
}

// SkippedFor builds a skipped delivery with a reason.
func SkippedFor(channel, reason string) Delivery {
	return Delivery{Channel: channel, Outcome: Skipped, Reason: reason}
}

// FailedWith builds a failed delivery.
func FailedWith(channel string, err error) Delivery {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Delivery{Channel: channel, Outcome: Failed, Reason: reason, Err: err}
}
