package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"chainalerts/internal/snapshot"
	"chainalerts/internal/version"
)

// HTTPOptions parameterise the JSON metric feed.
type HTTPOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches a JSON document of metric values from a URL.
//
// Accepted bodies are either a flat object ({"ETH": 3705.2, "volume": "1200"})
// or an envelope ({"timestamp": "...", "metrics": {...}}). Values may be JSON
// numbers or numeric strings.
type HTTP struct {
	opts   HTTPOptions
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewHTTP constructs an HTTP feed.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "http_feed").Logger(),
		now:    time.Now,
	}
}

// Refresh retrieves the current metrics for sourceID.
func (h *HTTP) Refresh(ctx context.Context, sourceID string) (map[string]snapshot.Reading, error) {
	if strings.TrimSpace(h.opts.URL) == "" {
		return nil, errors.New("feed url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	req.Header.Set("X-Source-Id", sourceID)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	return h.decode(payload)
}

type envelope struct {
	Timestamp *time.Time                 `json:"timestamp"`
	Metrics   map[string]json.RawMessage `json:"metrics"`
}

func (h *HTTP) decode(payload []byte) (map[string]snapshot.Reading, error) {
	ts := h.now().UTC()

	var env envelope
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &env); err == nil && env.Metrics != nil {
		raw = env.Metrics
		if env.Timestamp != nil {
			ts = env.Timestamp.UTC()
		}
	} else if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}

	readings := make(map[string]snapshot.Reading, len(raw))
	for key, value := range raw {
		d, err := parseNumber(value)
		if err != nil {
			h.logger.Debug().Err(err).Str("metric", key).Msg("skip non-numeric metric")
			continue
		}
		readings[key] = snapshot.Reading{Value: d.InexactFloat64(), Timestamp: ts}
	}
	if len(readings) == 0 {
		return nil, errors.New("feed returned no numeric metrics")
	}
	return readings, nil
}

func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("feed error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed error (%d)", status)
}

var _ Feed = (*HTTP)(nil)
