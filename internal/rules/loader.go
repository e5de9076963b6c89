package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"chainalerts/internal/condition"
	"chainalerts/internal/feed"
	"chainalerts/internal/severity"
)

// SeedFile is the YAML document of rules and price alerts loaded at startup.
type SeedFile struct {
	Rules       []ruleSeed  `yaml:"rules"`
	PriceAlerts []alertSeed `yaml:"price_alerts"`
}

type channelSeed struct {
	InApp    *bool `yaml:"in_app"`
	Sound    *bool `yaml:"sound"`
	Push     *bool `yaml:"push"`
	External *bool `yaml:"external"`
}

type ruleSeed struct {
	ID         string       `yaml:"id"`
	Name       string       `yaml:"name"`
	Enabled    *bool        `yaml:"enabled"`
	Sources    []string     `yaml:"sources"`
	Categories []string     `yaml:"categories"`
	Threshold  float64      `yaml:"threshold"`
	MinVolume  float64      `yaml:"min_volume"`
	Timeframes []string     `yaml:"timeframes"`
	Severity   string       `yaml:"severity"`
	Notify     *channelSeed `yaml:"notify"`
}

type alertSeed struct {
	ID         string         `yaml:"id"`
	Source     string         `yaml:"source"`
	Instrument string         `yaml:"instrument"`
	Metric     string         `yaml:"metric"`
	Condition  condition.Spec `yaml:"condition"`
	Timeframe  string         `yaml:"timeframe"`
	Repeatable bool           `yaml:"repeatable"`
	Enabled    *bool          `yaml:"enabled"`
	Notify     *channelSeed   `yaml:"notify"`
}

// LoadFile reads a seed file from disk.
func LoadFile(path string) ([]AlertRule, []PriceAlert, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a seed document. Any invalid entry rejects the whole file.
func Load(r io.Reader) ([]AlertRule, []PriceAlert, error) {
	var seed SeedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	ruleList := make([]AlertRule, 0, len(seed.Rules))
	for i, s := range seed.Rules {
		if s.Name == "" {
			return nil, nil, fmt.Errorf("rule at index %d: name is required", i)
		}
		if s.Threshold <= 0 {
			return nil, nil, fmt.Errorf("rule %q: threshold must be positive", s.Name)
		}
		if len(s.Categories) == 0 {
			return nil, nil, fmt.Errorf("rule %q: at least one category is required", s.Name)
		}
		categories := make([]feed.Category, 0, len(s.Categories))
		for _, c := range s.Categories {
			categories = append(categories, feed.Category(c))
		}
		ruleList = append(ruleList, AlertRule{
			ID:         s.ID,
			Name:       s.Name,
			Enabled:    boolOr(s.Enabled, true),
			Sources:    s.Sources,
			Categories: categories,
			Threshold:  s.Threshold,
			MinVolume:  s.MinVolume,
			Timeframes: s.Timeframes,
			Severity:   severity.Parse(s.Severity),
			Notify:     s.Notify.channels(),
		})
	}

	alertList := make([]PriceAlert, 0, len(seed.PriceAlerts))
	for i, s := range seed.PriceAlerts {
		if s.Source == "" || s.Instrument == "" {
			return nil, nil, fmt.Errorf("price alert at index %d: source and instrument are required", i)
		}
		cond, err := s.Condition.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("price alert at index %d: %w", i, err)
		}
		alertList = append(alertList, PriceAlert{
			ID:         s.ID,
			SourceID:   s.Source,
			Instrument: s.Instrument,
			Metric:     s.Metric,
			Condition:  cond,
			Timeframe:  s.Timeframe,
			Repeatable: s.Repeatable,
			Enabled:    boolOr(s.Enabled, true),
			Notify:     s.Notify.channels(),
		})
	}

	return ruleList, alertList, nil
}

func (c *channelSeed) channels() Channels {
	if c == nil {
		return AllChannels()
	}
	return Channels{
		InApp:    boolOr(c.InApp, true),
		Sound:    boolOr(c.Sound, true),
		Push:     boolOr(c.Push, true),
		External: boolOr(c.External, true),
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
