// Package alarm owns the alarm lifecycle: fingerprint deduplication,
// whitelist suppression, notification debounce and resolution.
package alarm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/notify"
	"github.com/martinsuchenak/switchwatch/internal/storage"
)

// Store is the persistence surface the manager needs
type Store interface {
	GetActiveAlarmByFingerprint(fingerprint string) (*model.Alarm, error)
	CreateAlarm(alarm *model.Alarm) error
	UpdateAlarm(alarm *model.Alarm) error
	AddAlarmHistory(entry *model.AlarmHistory) error
	ListAlarms(status model.AlarmStatus, deviceName string) ([]model.Alarm, error)
	IsWhitelisted(deviceName string, port int, mac string) (bool, error)
}

// Clock returns the current time; injected so debounce windows can be
// simulated in tests
type Clock func() time.Time

// Options configures a Manager
type Options struct {
	DebounceWindow time.Duration
	NotifyPortUp   bool
	Clock          Clock
}

// debounceState is the shared last-notification map. It is a separate
// struct so store-bound manager copies share one debounce history.
type debounceState struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Manager deduplicates alarms by fingerprint and rate-limits
// notifications. Safe for use from concurrent pollers.
type Manager struct {
	store          Store
	channels       []notify.Channel
	debounceWindow time.Duration
	notifyPortUp   bool
	now            Clock
	deb            *debounceState
}

// NewManager creates an alarm manager
func NewManager(store Store, channels []notify.Channel, opts Options) *Manager {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{
		store:          store,
		channels:       channels,
		debounceWindow: opts.DebounceWindow,
		notifyPortUp:   opts.NotifyPortUp,
		now:            opts.Clock,
		deb:            &debounceState{lastSent: make(map[string]time.Time)},
	}
}

// WithStore returns a manager bound to a different persistence surface,
// typically an open transaction. Debounce state is shared with the
// original so rebinding never resets notification rate limits.
func (m *Manager) WithStore(store Store) *Manager {
	clone := *m
	clone.store = store
	return &clone
}

// Raise describes one alarm condition
type Raise struct {
	Device        string
	Type          string
	Severity      string
	Title         string
	Message       string
	Port          int
	MAC           string
	FromPort      string
	ToPort        string
	FromPortNum   int
	ToPortNum     int
	OldValue      string
	NewValue      string
	OldVLANID     int
	NewVLANID     int
	SkipWhitelist bool
}

// GetOrCreateAlarm raises or refreshes an alarm. Returns the alarm and
// whether it is new. A nil alarm with nil error means the condition was
// suppressed by the whitelist.
func (m *Manager) GetOrCreateAlarm(r Raise) (*model.Alarm, bool, error) {
	severity := model.ParseSeverity(r.Severity)

	if r.MAC != "" && r.Port > 0 && !r.SkipWhitelist {
		whitelisted, err := m.store.IsWhitelisted(r.Device, r.Port, r.MAC)
		if err != nil {
			return nil, false, fmt.Errorf("checking whitelist: %w", err)
		}
		if whitelisted {
			log.Debug("Alarm suppressed by whitelist",
				"device", r.Device, "port", r.Port, "mac", r.MAC, "type", r.Type)
			return nil, false, nil
		}
	}

	fingerprint := Fingerprint(r.Device, r.Port, r.MAC, r.FromPort, r.ToPort, r.Type)
	now := m.now()

	existing, err := m.store.GetActiveAlarmByFingerprint(fingerprint)
	if err == nil {
		existing.OccurrenceCount++
		existing.LastOccurrence = now
		existing.Severity = severity
		existing.Message = r.Message
		if err := m.store.UpdateAlarm(existing); err != nil {
			return nil, false, fmt.Errorf("refreshing alarm: %w", err)
		}
		log.Debug("Alarm occurrence refreshed",
			"device", r.Device, "type", r.Type, "count", existing.OccurrenceCount)
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrAlarmNotFound) {
		return nil, false, fmt.Errorf("looking up alarm: %w", err)
	}

	alarm := &model.Alarm{
		DeviceName:      r.Device,
		Type:            r.Type,
		Severity:        severity,
		Status:          model.AlarmActive,
		Title:           r.Title,
		Message:         r.Message,
		Fingerprint:     fingerprint,
		PortNumber:      r.Port,
		MACAddress:      r.MAC,
		FromPort:        r.FromPortNum,
		ToPort:          r.ToPortNum,
		OldVLANID:       r.OldVLANID,
		NewVLANID:       r.NewVLANID,
		OldValue:        r.OldValue,
		NewValue:        r.NewValue,
		OccurrenceCount: 1,
		FirstOccurrence: now,
		LastOccurrence:  now,
	}
	if err := m.store.CreateAlarm(alarm); err != nil {
		return nil, false, fmt.Errorf("creating alarm: %w", err)
	}
	if err := m.store.AddAlarmHistory(&model.AlarmHistory{
		AlarmID:   alarm.ID,
		NewStatus: model.AlarmActive,
		Reason:    "created",
		Message:   r.Message,
		Timestamp: now,
	}); err != nil {
		return nil, false, fmt.Errorf("recording alarm history: %w", err)
	}

	log.Info("Alarm raised", "device", r.Device, "type", r.Type,
		"severity", string(severity), "port", r.Port)
	return alarm, true, nil
}

// ResolveAlarm marks an alarm resolved. Resolving an already resolved
// alarm is a no-op.
func (m *Manager) ResolveAlarm(alarm *model.Alarm, reason string) error {
	if alarm.Status == model.AlarmResolved {
		return nil
	}

	oldStatus := alarm.Status
	now := m.now()
	alarm.Status = model.AlarmResolved
	alarm.ResolvedAt = &now
	if err := m.store.UpdateAlarm(alarm); err != nil {
		return fmt.Errorf("resolving alarm: %w", err)
	}
	if err := m.store.AddAlarmHistory(&model.AlarmHistory{
		AlarmID:   alarm.ID,
		OldStatus: oldStatus,
		NewStatus: model.AlarmResolved,
		Reason:    reason,
		Timestamp: now,
	}); err != nil {
		return fmt.Errorf("recording alarm history: %w", err)
	}

	log.Info("Alarm resolved", "device", alarm.DeviceName, "type", alarm.Type, "reason", reason)
	return nil
}

// resolveActive resolves every ACTIVE alarm of the given type for a
// device, optionally narrowed to one port (port 0 matches any)
func (m *Manager) resolveActive(device, alarmType string, port int, reason string) error {
	alarms, err := m.store.ListAlarms(model.AlarmActive, device)
	if err != nil {
		return fmt.Errorf("listing active alarms: %w", err)
	}
	for i := range alarms {
		if alarms[i].Type != alarmType {
			continue
		}
		if port > 0 && alarms[i].PortNumber != port {
			continue
		}
		if err := m.ResolveAlarm(&alarms[i], reason); err != nil {
			return err
		}
	}
	return nil
}

// ShouldNotify reports whether the debounce window for key has elapsed
func (m *Manager) ShouldNotify(key string) bool {
	m.deb.mu.Lock()
	defer m.deb.mu.Unlock()

	sent, ok := m.deb.lastSent[key]
	if !ok {
		return true
	}
	return m.now().Sub(sent) >= m.debounceWindow
}

// MarkNotified records a sent notification for key
func (m *Manager) MarkNotified(key string) {
	m.deb.mu.Lock()
	defer m.deb.mu.Unlock()
	m.deb.lastSent[key] = m.now()
}

// CleanupNotifications evicts debounce entries older than retention and
// returns the number removed
func (m *Manager) CleanupNotifications(retention time.Duration) int {
	m.deb.mu.Lock()
	defer m.deb.mu.Unlock()

	cutoff := m.now().Add(-retention)
	removed := 0
	for key, sent := range m.deb.lastSent {
		if sent.Before(cutoff) {
			delete(m.deb.lastSent, key)
			removed++
		}
	}
	return removed
}

// Notify dispatches an alarm to all channels, gated by the debounce
// window. Returns true when at least one channel accepted it.
func (m *Manager) Notify(alarm *model.Alarm) bool {
	key := DebounceKey(alarm.DeviceName, alarm.Type)
	if alarm.PortNumber > 0 {
		key = PortDebounceKey(alarm.DeviceName, alarm.PortNumber, alarm.Type)
	}
	if !m.ShouldNotify(key) {
		log.Debug("Notification debounced", "device", alarm.DeviceName, "type", alarm.Type)
		return false
	}

	sent := false
	for _, ch := range m.channels {
		if ch.SendAlarm(alarm) {
			sent = true
		}
	}
	if sent {
		m.MarkNotified(key)
		alarm.NotificationSent = true
		if err := m.store.UpdateAlarm(alarm); err != nil {
			log.Warn("Recording notification flag failed", "alarm", alarm.ID, "error", err)
		}
	}
	return sent
}

// CheckDeviceReachability raises or resolves the device_unreachable
// alarm from a poll outcome
func (m *Manager) CheckDeviceReachability(device *model.Device, reachable bool) error {
	if reachable {
		return m.resolveActive(device.Name, model.AlarmTypeDeviceUnreachable, 0, "device reachable again")
	}

	alarm, _, err := m.GetOrCreateAlarm(Raise{
		Device:   device.Name,
		Type:     model.AlarmTypeDeviceUnreachable,
		Severity: string(model.SeverityCritical),
		Title:    "Device unreachable",
		Message: fmt.Sprintf("%s (%s) is not responding to SNMP (%d consecutive failures)",
			device.Name, device.IPAddress, device.PollFailures),
	})
	if err != nil {
		return err
	}

	key := DebounceKey(device.Name, model.AlarmTypeDeviceUnreachable)
	if m.ShouldNotify(key) {
		sent := false
		for _, ch := range m.channels {
			if ch.SendDeviceUnreachable(device.Name, device.IPAddress, device.PollFailures) {
				sent = true
			}
		}
		if sent {
			m.MarkNotified(key)
			alarm.NotificationSent = true
			if err := m.store.UpdateAlarm(alarm); err != nil {
				log.Warn("Recording notification flag failed", "alarm", alarm.ID, "error", err)
			}
		}
	}
	return nil
}

// CheckPortStatus raises or resolves port up/down alarms from an
// observed status transition. The first observation of a port is never
// a transition.
func (m *Manager) CheckPortStatus(device *model.Device, port model.PortInfo, prev *model.PortSnapshot) error {
	if prev == nil {
		return nil
	}

	wentDown := prev.OperStatus == "up" && port.OperStatus == "down"
	cameUp := prev.OperStatus == "down" && port.OperStatus == "up"

	switch {
	case wentDown && port.AdminStatus == "up":
		alarm, _, err := m.GetOrCreateAlarm(Raise{
			Device:   device.Name,
			Type:     model.AlarmTypePortDown,
			Severity: string(model.SeverityHigh),
			Title:    fmt.Sprintf("Port %d down", port.PortNumber),
			Message: fmt.Sprintf("Port %d (%s) on %s went down",
				port.PortNumber, port.PortName, device.Name),
			Port:     port.PortNumber,
			OldValue: prev.OperStatus,
			NewValue: port.OperStatus,
		})
		if err != nil {
			return err
		}

		key := PortDebounceKey(device.Name, port.PortNumber, model.AlarmTypePortDown)
		if m.ShouldNotify(key) {
			sent := false
			for _, ch := range m.channels {
				if ch.SendPortDown(device.Name, device.IPAddress, port.PortNumber, port.PortName) {
					sent = true
				}
			}
			if sent {
				m.MarkNotified(key)
				alarm.NotificationSent = true
				if err := m.store.UpdateAlarm(alarm); err != nil {
					log.Warn("Recording notification flag failed", "alarm", alarm.ID, "error", err)
				}
			}
		}

	case cameUp:
		if err := m.resolveActive(device.Name, model.AlarmTypePortDown, port.PortNumber, "port came back up"); err != nil {
			return err
		}
		if m.notifyPortUp {
			key := PortDebounceKey(device.Name, port.PortNumber, model.AlarmTypePortUp)
			if m.ShouldNotify(key) {
				sent := false
				for _, ch := range m.channels {
					if ch.SendPortUp(device.Name, device.IPAddress, port.PortNumber, port.PortName) {
						sent = true
					}
				}
				if sent {
					m.MarkNotified(key)
				}
			}
		}
	}
	return nil
}
