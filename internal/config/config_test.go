package config

import (
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
host_id: vm-web-01
collector_url: http://collector.internal:3000/api/v1/events
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.PollInterval != 10 {
		t.Errorf("PollInterval = %d, want 10", cfg.PollInterval)
	}
	if cfg.EventID != 4625 {
		t.Errorf("EventID = %d, want 4625", cfg.EventID)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.HealthAddr != "127.0.0.1:9090" {
		t.Errorf("HealthAddr = %q", cfg.HealthAddr)
	}
}

func TestParse_IgnoresUnknownKeys(t *testing.T) {
	yaml := minimalYAML + "\nfuture_feature: enabled\nnested:\n  also: ignored\n"
	if _, err := Parse([]byte(yaml)); err != nil {
		t.Fatalf("unknown keys must be ignored, got error: %v", err)
	}
}

func TestParse_ExplicitValues(t *testing.T) {
	yaml := `
host_id: vm-db-02
collector_url: https://collector:3000/api/v1/events
poll_interval: 30
event_id: 4625
state_dir: /var/lib/bruteguard
log_level: debug
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.PollInterval != 30 {
		t.Errorf("PollInterval = %d", cfg.PollInterval)
	}
	want := filepath.Join("/var/lib/bruteguard", "vm-db-02_seen.json")
	if cfg.SeenPath() != want {
		t.Errorf("SeenPath = %q, want %q", cfg.SeenPath(), want)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing host_id", "collector_url: http://c:3000/api/v1/events\n", "host_id"},
		{"missing collector_url", "host_id: vm-1\n", "collector_url"},
		{"bad collector_url", "host_id: vm-1\ncollector_url: ':::'\n", "collector_url"},
		{"relative collector_url", "host_id: vm-1\ncollector_url: /api/v1/events\n", "collector_url"},
		{"bad log level", minimalYAML + "log_level: loud\n", "log_level"},
		{"negative poll", minimalYAML + "poll_interval: -1\n", "poll_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
