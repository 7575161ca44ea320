package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SNMP.Community != "public" {
		t.Errorf("SNMP.Community = %q, want public", cfg.SNMP.Community)
	}
	if cfg.Polling.Interval.Std() != 60*time.Second {
		t.Errorf("Polling.Interval = %s, want 60s", cfg.Polling.Interval)
	}
	if cfg.Polling.Concurrency != 5 {
		t.Errorf("Polling.Concurrency = %d, want 5", cfg.Polling.Concurrency)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %q, want :8080", cfg.API.ListenAddr)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
devices:
  - name: sw-core-01
    ip_address: 10.0.0.1
    vendor: cisco
    model: cbs350
    expected_macs:
      5: "aa:bb:cc:dd:ee:ff"
  - name: sw-access-02
    ip_address: 10.0.0.2
    vendor: cisco
    model: catalyst9600
    version: "3"
    username: monitor
polling:
  interval: 30s
  concurrency: 10
alarms:
  debounce_window: 2m
  whitelisted_macs:
    - "11:22:33:44:55:66"
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	if cfg.Devices[0].ExpectedMACs[5] != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("ExpectedMACs[5] = %q", cfg.Devices[0].ExpectedMACs[5])
	}
	if got := cfg.SNMPVersion(cfg.Devices[1]); got != "3" {
		t.Errorf("SNMPVersion = %q, want 3", got)
	}
	if got := cfg.SNMPVersion(cfg.Devices[0]); got != "2c" {
		t.Errorf("SNMPVersion fallback = %q, want 2c", got)
	}
	if cfg.Polling.Interval.Std() != 30*time.Second {
		t.Errorf("Polling.Interval = %s, want 30s", cfg.Polling.Interval)
	}
	if cfg.Alarms.DebounceWindow.Std() != 2*time.Minute {
		t.Errorf("DebounceWindow = %s, want 2m", cfg.Alarms.DebounceWindow)
	}
}

func TestLoadOverridePrecedence(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /data/from-file.db
polling:
  interval: 45s
`)
	t.Setenv("SW_DATABASE_PATH", "/data/from-env.db")

	cfg, err := Load(path, &Overrides{
		DatabasePath: "/data/from-cli.db",
		Interval:     90 * time.Second,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/data/from-cli.db" {
		t.Errorf("Database.Path = %q, want CLI value", cfg.Database.Path)
	}
	if cfg.Polling.Interval.Std() != 90*time.Second {
		t.Errorf("Polling.Interval = %s, want 90s", cfg.Polling.Interval)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /data/from-file.db
`)
	t.Setenv("SW_DATABASE_PATH", "/data/from-env.db")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/data/from-env.db" {
		t.Errorf("Database.Path = %q, want env value", cfg.Database.Path)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing device name",
			yaml: `
devices:
  - ip_address: 10.0.0.1
    model: cbs350
`,
			wantErr: "name is required",
		},
		{
			name: "missing ip",
			yaml: `
devices:
  - name: sw-01
    model: cbs350
`,
			wantErr: "ip_address is required",
		},
		{
			name: "missing model",
			yaml: `
devices:
  - name: sw-01
    ip_address: 10.0.0.1
`,
			wantErr: "model is required",
		},
		{
			name: "duplicate device",
			yaml: `
devices:
  - name: sw-01
    ip_address: 10.0.0.1
    model: cbs350
  - name: sw-01
    ip_address: 10.0.0.2
    model: cbs350
`,
			wantErr: "duplicate device name",
		},
		{
			name: "telegram without token",
			yaml: `
telegram:
  enabled: true
`,
			wantErr: "telegram",
		},
		{
			name: "bad duration",
			yaml: `
polling:
  interval: soon
`,
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml), nil)
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
