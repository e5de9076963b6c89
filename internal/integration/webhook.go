package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chainalerts/internal/alerting"
	"chainalerts/internal/severity"
)

// WebhookSender posts Discord-style payloads to an incoming webhook URL.
type WebhookSender struct {
	url         string
	includeData bool
	userAgent   string
	client      *http.Client
}

// NewWebhookSender constructs a class A sender.
func NewWebhookSender(webhookURL string, includeData bool, client *http.Client, userAgent string) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: webhookURL, includeData: includeData, userAgent: userAgent, client: client}
}

// Send posts ev to the webhook.
func (s *WebhookSender) Send(ctx context.Context, ev alerting.Event) error {
	body, err := json.Marshal(buildWebhookPayload(ev, s.includeData))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &RemoteStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}

type webhookPayload struct {
	Content string         `json:"content"`
	Embeds  []webhookEmbed `json:"embeds"`
}

type webhookEmbed struct {
	Title       string         `json:"title"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []webhookField `json:"fields,omitempty"`
	Footer      *webhookFooter `json:"footer,omitempty"`
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookFooter struct {
	Text string `json:"text"`
}

func buildWebhookPayload(ev alerting.Event, includeData bool) webhookPayload {
	embed := webhookEmbed{
		Title:       ev.Title,
		URL:         ev.Metadata.SourceURL,
		Description: ev.Message,
		Color:       severityColor(ev.Severity),
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
		Fields: []webhookField{
			{Name: "Severity", Value: strings.ToUpper(ev.Severity.String()), Inline: true},
			{Name: "Category", Value: string(ev.Category), Inline: true},
		},
		Footer: &webhookFooter{Text: "chainalerts"},
	}
	if src := ev.SourceID(); src != "" {
		embed.Fields = append(embed.Fields, webhookField{Name: "Source", Value: src, Inline: true})
	}
	if includeData && ev.Metadata.MetricKey != "" {
		embed.Fields = append(embed.Fields, priceFields(ev)...)
	}

	return webhookPayload{
		Content: fmt.Sprintf("%s %s", severityEmoji(ev.Severity), ev.Title),
		Embeds:  []webhookEmbed{embed},
	}
}

func priceFields(ev alerting.Event) []webhookField {
	key := ev.Metadata.MetricKey
	fields := []webhookField{
		{Name: "Current", Value: alerting.FormatValue(key, ev.Metadata.Current), Inline: true},
	}
	if ev.Metadata.HasPrevious {
		fields = append(fields,
			webhookField{Name: "Previous", Value: alerting.FormatValue(key, ev.Metadata.Previous), Inline: true},
			webhookField{Name: "Change", Value: alerting.FormatPercent(ev.Metadata.ChangePct), Inline: true},
		)
	}
	return fields
}

func severityColor(l severity.Level) int {
	switch l {
	case severity.Critical:
		return 0xE01E5A
	case severity.High:
		return 0xF2711C
	case severity.Medium:
		return 0xECB22E
	default:
		return 0x2EB67D
	}
}

func severityEmoji(l severity.Level) string {
	switch l {
	case severity.Critical:
		return "🚨"
	case severity.High:
		return "🔴"
	case severity.Medium:
		return "🟠"
	default:
		return "🟢"
	}
}

var _ Sender = (*WebhookSender)(nil)
