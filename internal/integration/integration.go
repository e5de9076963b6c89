// Package integration manages outbound webhook-style integrations: their
// configuration, connectivity tests, message formatting and delivery status.
package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chainalerts/internal/alerting"
	"chainalerts/internal/severity"
)

// ErrInvalidConfig marks an integration whose connection settings cannot work.
var ErrInvalidConfig = errors.New("invalid integration config")

// Type selects the outbound message schema.
type Type string

const (
	// TypeWebhook posts Discord-style content/embeds payloads.
	TypeWebhook Type = "webhook"
	// TypeTelegram calls the bot sendMessage API with chat id and text.
	TypeTelegram Type = "telegram"
)

// ParseType normalises a user supplied integration type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webhook", "discord":
		return TypeWebhook, nil
	case "telegram":
		return TypeTelegram, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, s)
	}
}

// Status is the last known connectivity state.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusPending      Status = "pending"
)

// Connection holds the endpoint and credentials of an integration.
type Connection struct {
	WebhookURL string `json:"webhookUrl,omitempty"`
	BotToken   string `json:"botToken,omitempty"`
	ChatID     string `json:"chatId,omitempty"`
	APIBase    string `json:"apiBase,omitempty"`
}

// Filter decides which events an integration receives.
type Filter struct {
	MinSeverity        severity.Level      `json:"minSeverity"`
	Categories         []alerting.Category `json:"categories,omitempty"`
	IncludePriceAlerts bool                `json:"includePriceAlerts"`
	IncludePriceData   bool                `json:"includePriceData"`
}

// Accepts reports whether ev passes the filter.
func (f Filter) Accepts(ev alerting.Event) bool {
	if f.MinSeverity != 0 && !ev.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if ev.Category == alerting.CategoryPriceAlert && !f.IncludePriceAlerts {
		return false
	}
	if len(f.Categories) == 0 {
		return true
	}
	for _, c := range f.Categories {
		if c == ev.Category {
			return true
		}
	}
	return false
}

// Integration is one configured outbound channel.
type Integration struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	Name          string     `json:"name"`
	Connection    Connection `json:"connection"`
	Filter        Filter     `json:"filter"`
	Enabled       bool       `json:"enabled"`
	RatePerMinute int        `json:"ratePerMinute,omitempty"`
	Status        Status     `json:"status"`
	LastError     string     `json:"lastError,omitempty"`
	LastUpdated   time.Time  `json:"lastUpdated"`
}

func (i Integration) clone() Integration {
	i.Filter.Categories = append([]alerting.Category(nil), i.Filter.Categories...)
	return i
}

// Validate checks the connection settings for the integration type.
func (i Integration) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	switch i.Type {
	case TypeWebhook:
		return validateEndpoint(i.Connection.WebhookURL)
	case TypeTelegram:
		if i.Connection.BotToken == "" {
			return fmt.Errorf("%w: bot token is required", ErrInvalidConfig)
		}
		if i.Connection.ChatID == "" {
			return fmt.Errorf("%w: chat id is required", ErrInvalidConfig)
		}
		if i.Connection.APIBase != "" {
			return validateEndpoint(i.Connection.APIBase)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidConfig, i.Type)
	}
}

func validateEndpoint(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: endpoint URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: endpoint must be http or https, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint host is missing", ErrInvalidConfig)
	}
	return nil
}

// Sender delivers a formatted event to one integration.
type Sender interface {
	Send(ctx context.Context, ev alerting.Event) error
}

// RemoteStatusError is returned when the remote end answered but rejected the message.
type RemoteStatusError struct {
	Code int
	Body string
}

func (e *RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote responded with status %d", e.Code)
	}
	return fmt.Sprintf("remote responded with status %d: %s", e.Code, e.Body)
}

// statusFor maps a send outcome to the integration status it implies. Every
// failed attempt, unreachable endpoints included, is an error state; the
// cause is kept in LastError.
func statusFor(err error) Status {
	if err == nil {
		return StatusConnected
	}
	return StatusError
}

// SaveResult reports the outcome of a save or connectivity test.
type SaveResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
