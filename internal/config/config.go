package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Devices  []DeviceConfig `yaml:"devices"`
	SNMP     SNMPConfig     `yaml:"snmp"`
	Polling  PollingConfig  `yaml:"polling"`
	Alarms   AlarmConfig    `yaml:"alarms"`
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`

	ConfigFile string `yaml:"-"` // Path the config was loaded from
}

// DeviceConfig describes one monitored switch. Fields left empty fall
// back to the snmp section defaults.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	IPAddress string `yaml:"ip_address"`
	Vendor    string `yaml:"vendor"`
	Model     string `yaml:"model"`

	Community      string `yaml:"community"`
	Version        string `yaml:"version"`
	Username       string `yaml:"username"`
	AuthProtocol   string `yaml:"auth_protocol"`
	AuthPassphrase string `yaml:"auth_passphrase"`
	PrivProtocol   string `yaml:"priv_protocol"`
	PrivPassphrase string `yaml:"priv_passphrase"`

	// ExpectedMACs maps port number to the MAC that should be there.
	// A mismatch raises a configuration alarm that bypasses the whitelist.
	ExpectedMACs map[int]string `yaml:"expected_macs"`
}

// SNMPConfig holds transport defaults applied to devices that do not
// override them
type SNMPConfig struct {
	Community      string   `yaml:"community"`
	Version        string   `yaml:"version"`
	Port           uint16   `yaml:"port"`
	Timeout        Duration `yaml:"timeout"`
	Retries        int      `yaml:"retries"`
	MaxRepetitions int      `yaml:"max_repetitions"`
}

// PollingConfig controls the poll scheduler
type PollingConfig struct {
	Interval    Duration `yaml:"interval"`
	Concurrency int      `yaml:"concurrency"`
}

// AlarmConfig controls deduplication, debounce and suppression
type AlarmConfig struct {
	DebounceWindow  Duration `yaml:"debounce_window"`
	WhitelistedMACs []string `yaml:"whitelisted_macs"`
	NotifyPortUp    bool     `yaml:"notify_port_up"`
}

// TelegramConfig configures the Telegram notification channel
type TelegramConfig struct {
	Enabled  bool     `yaml:"enabled"`
	BotToken string   `yaml:"bot_token"`
	ChatID   string   `yaml:"chat_id"`
	NotifyOn []string `yaml:"notify_on"`
}

// EmailConfig configures the SMTP notification channel
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	NotifyOn []string `yaml:"notify_on"`
}

// DatabaseConfig holds storage settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig holds the HTTP API settings
type APIConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	BearerToken string `yaml:"bearer_token"`
}

// Overrides are CLI-level settings that take priority over the config
// file and environment
type Overrides struct {
	DatabasePath string
	ListenAddr   string
	Interval     time.Duration
	Concurrency  int
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Command-line parameters (passed as opts)
// 2. Environment variables
// 3. Config file values
// 4. Default values
func Load(path string, opts *Overrides) (*Config, error) {
	cfg := &Config{
		SNMP: SNMPConfig{
			Community:      "public",
			Version:        "2c",
			Port:           161,
			Timeout:        Duration(2 * time.Second),
			Retries:        1,
			MaxRepetitions: 25,
		},
		Polling: PollingConfig{
			Interval:    Duration(60 * time.Second),
			Concurrency: 5,
		},
		Alarms: AlarmConfig{
			DebounceWindow: Duration(5 * time.Minute),
		},
		Database: DatabaseConfig{
			Path: "./switchwatch.db",
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	// Environment overrides
	cfg.Database.Path = coalesce(os.Getenv("SW_DATABASE_PATH"), cfg.Database.Path)
	cfg.API.ListenAddr = coalesce(os.Getenv("SW_LISTEN_ADDR"), cfg.API.ListenAddr)
	cfg.API.BearerToken = coalesce(os.Getenv("SW_BEARER_TOKEN"), cfg.API.BearerToken)
	cfg.SNMP.Community = coalesce(os.Getenv("SW_SNMP_COMMUNITY"), cfg.SNMP.Community)
	cfg.Telegram.BotToken = coalesce(os.Getenv("SW_TELEGRAM_BOT_TOKEN"), cfg.Telegram.BotToken)
	cfg.Email.Password = coalesce(os.Getenv("SW_EMAIL_PASSWORD"), cfg.Email.Password)
	if v := os.Getenv("SW_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.Interval = Duration(d)
		}
	}
	if v := os.Getenv("SW_POLL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.Concurrency = n
		}
	}

	// Finally, apply CLI opts if provided (highest priority)
	if opts != nil {
		if opts.DatabasePath != "" {
			cfg.Database.Path = opts.DatabasePath
		}
		if opts.ListenAddr != "" {
			cfg.API.ListenAddr = opts.ListenAddr
		}
		if opts.Interval > 0 {
			cfg.Polling.Interval = Duration(opts.Interval)
		}
		if opts.Concurrency > 0 {
			cfg.Polling.Concurrency = opts.Concurrency
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", c.Polling.Interval)
	}
	if c.Polling.Concurrency < 1 {
		return fmt.Errorf("polling concurrency must be at least 1, got %d", c.Polling.Concurrency)
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}
		if dev.IPAddress == "" {
			return fmt.Errorf("device %s: ip_address is required", dev.Name)
		}
		if dev.Model == "" {
			return fmt.Errorf("device %s: model is required", dev.Name)
		}
		if seen[dev.Name] {
			return fmt.Errorf("duplicate device name %s", dev.Name)
		}
		seen[dev.Name] = true
	}
	if c.Email.Enabled && c.Email.Host == "" {
		return fmt.Errorf("email notifications enabled but host is empty")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram notifications enabled but bot_token or chat_id is empty")
	}
	return nil
}

// SNMPCommunity returns the device community, falling back to the
// global default
func (c *Config) SNMPCommunity(dev DeviceConfig) string {
	return coalesce(dev.Community, c.SNMP.Community)
}

// SNMPVersion returns the device SNMP version, falling back to the
// global default
func (c *Config) SNMPVersion(dev DeviceConfig) string {
	return coalesce(dev.Version, c.SNMP.Version)
}

// String returns a string representation of the config source
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf("config file (%s)", c.ConfigFile)
	}
	return "defaults and environment variables"
}

// coalesce returns the first non-empty string value
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
