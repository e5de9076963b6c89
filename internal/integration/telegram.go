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
)

const defaultTelegramBase = "https://api.telegram.org"

// TelegramSender 通过 Telegram Bot API 推送告警。
type TelegramSender struct {
	botToken    string
	chatID      string
	baseURL     string
	includeData bool
	client      *http.Client
}

// NewTelegramSender 构造 class B 发送器。
func NewTelegramSender(conn Connection, includeData bool, client *http.Client) *TelegramSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := conn.APIBase
	if baseURL == "" {
		baseURL = defaultTelegramBase
	}
	return &TelegramSender{
		botToken:    conn.BotToken,
		chatID:      conn.ChatID,
		baseURL:     strings.TrimRight(baseURL, "/"),
		includeData: includeData,
		client:      client,
	}
}

// Send 调用 sendMessage API 推送文本。
func (s *TelegramSender) Send(ctx context.Context, ev alerting.Event) error {
	payload := map[string]string{
		"chat_id": s.chatID,
		"text":    renderTelegramText(ev, s.includeData),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &RemoteStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return &RemoteStatusError{Code: resp.StatusCode, Body: "telegram 返回 ok=false " + result.Description}
	}
	return nil
}

func renderTelegramText(ev alerting.Event, includeData bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s\n", severityEmoji(ev.Severity), strings.ToUpper(ev.Severity.String()), ev.Title)
	b.WriteString(ev.Message)
	b.WriteString("\n")
	if src := ev.SourceID(); src != "" {
		fmt.Fprintf(&b, "Source: %s\n", src)
	}
	if includeData && ev.Metadata.MetricKey != "" {
		key := ev.Metadata.MetricKey
		fmt.Fprintf(&b, "Current: %s\n", alerting.FormatValue(key, ev.Metadata.Current))
		if ev.Metadata.HasPrevious {
			fmt.Fprintf(&b, "Previous: %s\n", alerting.FormatValue(key, ev.Metadata.Previous))
			fmt.Fprintf(&b, "Change: %s\n", alerting.FormatPercent(ev.Metadata.ChangePct))
		}
	}
	fmt.Fprintf(&b, "Time: %s UTC", ev.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

var _ Sender = (*TelegramSender)(nil)
