package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Scheduler.MetricsInterval != 10*time.Second {
		t.Fatalf("metrics interval default = %s", cfg.Scheduler.MetricsInterval)
	}
	if cfg.Alerting.HistoryCapacity != 50 {
		t.Fatalf("history capacity default = %d", cfg.Alerting.HistoryCapacity)
	}
	if cfg.Alerting.RuleCooldown != 30*time.Minute {
		t.Fatalf("rule cooldown default = %s", cfg.Alerting.RuleCooldown)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("storage backend default = %q", cfg.Storage.Backend)
	}
	if cfg.Analytics.AnomalyK != 2 {
		t.Fatalf("anomaly k default = %v", cfg.Analytics.AnomalyK)
	}
}

func TestLoadSourcesAndIntegrations(t *testing.T) {
	body := `
sources:
  - id: ethereum
    name: Ethereum
    kind: evm
    url: http://localhost:8545
    link: https://etherscan.io
    categories: [gas]
  - id: prices
    name: Prices
    kind: http
    url: http://localhost:9000/metrics
    timeout: 3s
    categories: [price, volume]
integrations:
  - id: ops
    type: discord
    name: Ops
    webhook_url: https://discord.example/hook
    min_severity: high
    enabled: true
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if cfg.Sources[0].Link != "https://etherscan.io" {
		t.Fatalf("source link = %q", cfg.Sources[0].Link)
	}
	if cfg.Sources[1].Timeout != 3*time.Second {
		t.Fatalf("source timeout = %s", cfg.Sources[1].Timeout)
	}
	if len(cfg.Sources[1].Categories) != 2 {
		t.Fatalf("categories = %#v", cfg.Sources[1].Categories)
	}
	if len(cfg.Integrations) != 1 || cfg.Integrations[0].MinSeverity != "high" {
		t.Fatalf("integrations = %#v", cfg.Integrations)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"backend":      "storage:\n  backend: mongo\n",
		"capacity":     "alerting:\n  history_capacity: 0\n",
		"capacity_max": "alerting:\n  history_capacity: 51\n",
		"interval":     "scheduler:\n  metrics_interval: 0s\n",
		"kind":         "sources:\n  - id: a\n    url: http://x\n    kind: ftp\n",
		"duplicate":    "sources:\n  - id: a\n    url: http://x\n    kind: http\n  - id: a\n    url: http://y\n    kind: http\n",
		"dsn":          "storage:\n  backend: postgres\n",
		"vault_kind":   "sources:\n  - id: a\n    url: http://x\n    kind: http\n    vaults:\n      - symbol: sUSDe\n        address: '0x9D39A5DE30e57443BfF2A8307A4256c8797A3497'\n",
		"vault_addr":   "sources:\n  - id: a\n    url: http://x\n    kind: evm\n    vaults:\n      - symbol: sUSDe\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	if cfg.ResolveMaxPoints(0) != 10 {
		t.Fatal("zero override should fall back to config")
	}
	if cfg.ResolveMaxPoints(3) != 3 {
		t.Fatal("override should win")
	}
}
