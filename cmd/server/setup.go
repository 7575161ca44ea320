package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/alarm"
	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/martinsuchenak/switchwatch/internal/engine"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/notify"
	"github.com/martinsuchenak/switchwatch/internal/poller"
	"github.com/martinsuchenak/switchwatch/internal/snmp"
	"github.com/martinsuchenak/switchwatch/internal/storage"
	"github.com/martinsuchenak/switchwatch/internal/vendor"
)

// App bundles the wired runtime components shared by the server and
// one-shot poll commands
type App struct {
	Config *config.Config
	Store  storage.Storage
	Alarms *alarm.Manager
	Engine *engine.Engine
}

// Bootstrap opens storage, seeds it from the configuration and builds
// the polling engine. deviceFilter narrows polling to one device by
// name; empty means all configured devices.
func Bootstrap(cfg *config.Config, deviceFilter string) (*App, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	log.Info("Storage initialized", "backend", "SQLite", "path", cfg.Database.Path)

	if err := seedFromConfig(store, cfg); err != nil {
		store.Close()
		return nil, err
	}

	channels := buildChannels(cfg)
	alarms := alarm.NewManager(store, channels, alarm.Options{
		DebounceWindow: time.Duration(cfg.Alarms.DebounceWindow),
		NotifyPortUp:   cfg.Alarms.NotifyPortUp,
	})

	pollers, err := buildPollers(cfg, deviceFilter)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config: cfg,
		Store:  store,
		Alarms: alarms,
		Engine: engine.New(store, alarms, pollers, cfg.Polling.Concurrency),
	}, nil
}

// Close tears the app down in dependency order
func (a *App) Close() {
	a.Engine.Stop()
	if err := a.Store.Close(); err != nil {
		log.Warn("Closing storage failed", "error", err)
	}
}

// seedFromConfig replaces the whitelist, expected-MAC registrations and
// device rows with the configured state. Runtime device state
// (poll counters, status) is preserved across restarts.
func seedFromConfig(store storage.Storage, cfg *config.Config) error {
	entries := make([]model.WhitelistEntry, 0, len(cfg.Alarms.WhitelistedMACs))
	for _, raw := range cfg.Alarms.WhitelistedMACs {
		entry, err := parseWhitelistEntry(raw)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	if err := store.ReplaceWhitelist(entries); err != nil {
		return fmt.Errorf("seeding whitelist: %w", err)
	}
	log.Info("Whitelist loaded", "entries", len(entries))

	for _, dev := range cfg.Devices {
		if err := store.UpsertDevice(&model.Device{
			Name:      dev.Name,
			IPAddress: dev.IPAddress,
			Vendor:    dev.Vendor,
			Model:     dev.Model,
			Status:    model.DeviceUnknown,
		}); err != nil {
			return fmt.Errorf("seeding device %s: %w", dev.Name, err)
		}
		if err := store.ReplaceExpectedMACs(dev.Name, dev.ExpectedMACs); err != nil {
			return fmt.Errorf("seeding expected MACs for %s: %w", dev.Name, err)
		}
	}
	return nil
}

// parseWhitelistEntry parses "mac", "device:port:mac" or ":port:mac"
// whitelist syntax. Empty device and zero port match anywhere.
func parseWhitelistEntry(raw string) (model.WhitelistEntry, error) {
	parts := strings.Split(raw, ":")

	// A bare MAC contains colons itself, so only treat the value as
	// scoped when it has exactly 8 colon-separated fields
	// (device:port:xx:xx:xx:xx:xx:xx)
	if len(parts) == 8 {
		entry := model.WhitelistEntry{
			Device: parts[0],
			MAC:    strings.Join(parts[2:], ":"),
		}
		if parts[1] != "" {
			port, err := strconv.Atoi(parts[1])
			if err != nil || port < 0 {
				return model.WhitelistEntry{}, fmt.Errorf("whitelist entry %q: invalid port %q", raw, parts[1])
			}
			entry.Port = port
		}
		return entry, nil
	}
	if len(parts) == 6 {
		return model.WhitelistEntry{MAC: raw}, nil
	}
	return model.WhitelistEntry{}, fmt.Errorf("whitelist entry %q: expected MAC or device:port:MAC", raw)
}

func buildChannels(cfg *config.Config) []notify.Channel {
	var channels []notify.Channel
	if cfg.Telegram.Enabled {
		channels = append(channels, notify.NewTelegramChannel(cfg.Telegram))
		log.Info("Telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	}
	if cfg.Email.Enabled {
		channels = append(channels, notify.NewEmailChannel(cfg.Email))
		log.Info("Email notifications enabled", "host", cfg.Email.Host, "recipients", len(cfg.Email.To))
	}
	if len(channels) == 0 {
		log.Info("No notification channels configured, alarms stored only")
	}
	return channels
}

// buildPollers connects an SNMP client and picks a decoder for each
// configured device. An unknown model or failed connect disables
// monitoring for that device only; the remaining devices keep running.
func buildPollers(cfg *config.Config, deviceFilter string) ([]*poller.Poller, error) {
	var pollers []*poller.Poller
	matched := false
	for _, dev := range cfg.Devices {
		if deviceFilter != "" && dev.Name != deviceFilter {
			continue
		}
		matched = true

		decoder, err := vendor.Default.ForModel(dev.Vendor, dev.Model)
		if err != nil {
			log.Error("Device not monitored", "device", dev.Name, "error", err)
			continue
		}

		client, err := snmp.NewClient(snmp.Config{
			Host:           dev.IPAddress,
			Port:           cfg.SNMP.Port,
			Version:        cfg.SNMPVersion(dev),
			Community:      cfg.SNMPCommunity(dev),
			Timeout:        time.Duration(cfg.SNMP.Timeout),
			Retries:        cfg.SNMP.Retries,
			Username:       dev.Username,
			AuthProtocol:   dev.AuthProtocol,
			AuthPassphrase: dev.AuthPassphrase,
			PrivProtocol:   dev.PrivProtocol,
			PrivPassphrase: dev.PrivPassphrase,
		})
		if err != nil {
			log.Error("Device not monitored", "device", dev.Name, "error", err)
			continue
		}

		pollers = append(pollers, poller.New(&model.Device{
			Name:      dev.Name,
			IPAddress: dev.IPAddress,
			Vendor:    dev.Vendor,
			Model:     dev.Model,
		}, client, decoder, cfg.SNMP.MaxRepetitions))
	}

	if deviceFilter != "" && !matched {
		return nil, fmt.Errorf("device %s not found in configuration", deviceFilter)
	}
	return pollers, nil
}
