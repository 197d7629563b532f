package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
app:
  name: deal-service
  port: 9000
business:
  toleranceMinutes: 20
  defaultTakeRate: 0.15
  reminderLead: 45m
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.App.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.App.Port)
	}
	if cfg.Business.Tolerance() != 20*time.Minute {
		t.Errorf("tolerance = %v, want 20m", cfg.Business.Tolerance())
	}
	if cfg.Business.ReminderLead != 45*time.Minute {
		t.Errorf("reminderLead = %v, want 45m", cfg.Business.ReminderLead)
	}
	// 未出现在 YAML 中的字段保持默认值
	if cfg.Business.Timezone != "America/Mexico_City" {
		t.Errorf("timezone = %q", cfg.Business.Timezone)
	}
	if cfg.Business.DefaultAverageTicket != 200 {
		t.Errorf("defaultAverageTicket = %v", cfg.Business.DefaultAverageTicket)
	}
}

func TestParseRejectsInvalidBusinessRules(t *testing.T) {
	cases := map[string]string{
		"take rate above one": "business:\n  defaultTakeRate: 1.5\n",
		"negative tolerance":  "business:\n  toleranceMinutes: -1\n",
		"unknown timezone":    "business:\n  timezone: Mars/Olympus\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Infra.Kafka.Brokers) != 2 || cfg.Infra.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Infra.Kafka.Brokers)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deal-service.yaml")
	if err := os.WriteFile(path, []byte("infra:\n  store:\n    driver: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Infra.Store.Driver != "memory" {
		t.Fatalf("driver = %q, want memory", cfg.Infra.Store.Driver)
	}
}

func TestCurrentFallsBackToDefault(t *testing.T) {
	if Current() == nil {
		t.Fatal("Current() returned nil")
	}
	cfg := Default()
	cfg.App.Name = "swapped"
	Set(cfg)
	if Current().App.Name != "swapped" {
		t.Fatal("Set did not replace current config")
	}
}
