package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/martinsuchenak/switchwatch/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

// queryer is satisfied by both *sql.DB and *sql.Tx so the data-access
// helpers work inside and outside transactions
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// SQLiteStorage implements Storage with SQLite backend
type SQLiteStorage struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite-based storage at the given file path
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	// Open database with SQLite settings
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)

	ss := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	// Initialize schema
	if err := ss.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	// Apply pending migrations
	if err := ss.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return ss, nil
}

// initSchema creates the database schema
func (ss *SQLiteStorage) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	_, err = ss.db.Exec(string(schema))
	return err
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// WithTx runs fn inside a single transaction
func (ss *SQLiteStorage) WithTx(fn func(Store) error) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Devices ---

func (ss *SQLiteStorage) UpsertDevice(device *model.Device) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return upsertDevice(ss.db, device)
}

func (ss *SQLiteStorage) GetDevice(name string) (*model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return getDevice(ss.db, name)
}

func (ss *SQLiteStorage) ListDevices() ([]model.Device, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return listDevices(ss.db)
}

// --- Snapshots ---

func (ss *SQLiteStorage) GetPortSnapshots(deviceName string) (map[int]model.PortSnapshot, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return getPortSnapshots(ss.db, deviceName)
}

func (ss *SQLiteStorage) SavePortSnapshot(snap *model.PortSnapshot) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return savePortSnapshot(ss.db, snap)
}

// --- MAC locations ---

func (ss *SQLiteStorage) GetMACLocation(mac string) (*model.MACLocation, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return getMACLocation(ss.db, mac)
}

func (ss *SQLiteStorage) UpsertMACLocation(mac, device string, port, vlan int, seenAt time.Time) (*model.MACLocation, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return upsertMACLocation(ss.db, mac, device, port, vlan, seenAt)
}

func (ss *SQLiteStorage) ClearMACLocation(mac string, seenAt time.Time) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return clearMACLocation(ss.db, mac, seenAt)
}

// --- Change records ---

func (ss *SQLiteStorage) RecordChange(change *model.ChangeRecord) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return recordChange(ss.db, change)
}

func (ss *SQLiteStorage) ListChanges(deviceName string, limit int) ([]model.ChangeRecord, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return listChanges(ss.db, deviceName, limit)
}

// --- Alarms ---

func (ss *SQLiteStorage) CreateAlarm(alarm *model.Alarm) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return createAlarm(ss.db, alarm)
}

func (ss *SQLiteStorage) GetAlarm(id string) (*model.Alarm, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return getAlarm(ss.db, id)
}

func (ss *SQLiteStorage) GetActiveAlarmByFingerprint(fingerprint string) (*model.Alarm, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return getActiveAlarmByFingerprint(ss.db, fingerprint)
}

func (ss *SQLiteStorage) UpdateAlarm(alarm *model.Alarm) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return updateAlarm(ss.db, alarm)
}

func (ss *SQLiteStorage) ListAlarms(status model.AlarmStatus, deviceName string) ([]model.Alarm, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return listAlarms(ss.db, status, deviceName)
}

func (ss *SQLiteStorage) AddAlarmHistory(entry *model.AlarmHistory) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return addAlarmHistory(ss.db, entry)
}

func (ss *SQLiteStorage) ListAlarmHistory(alarmID string) ([]model.AlarmHistory, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return listAlarmHistory(ss.db, alarmID)
}

func (ss *SQLiteStorage) DeleteResolvedAlarmsBefore(cutoff time.Time) (int64, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return deleteResolvedAlarmsBefore(ss.db, cutoff)
}

// --- Suppression lookups ---

func (ss *SQLiteStorage) ReplaceWhitelist(entries []model.WhitelistEntry) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return replaceWhitelist(ss.db, entries)
}

func (ss *SQLiteStorage) IsWhitelisted(deviceName string, port int, mac string) (bool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return isWhitelisted(ss.db, deviceName, port, mac)
}

func (ss *SQLiteStorage) ReplaceExpectedMACs(deviceName string, macs map[int]string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return replaceExpectedMACs(ss.db, deviceName, macs)
}

func (ss *SQLiteStorage) ExpectedMAC(deviceName string, port int) (string, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return expectedMAC(ss.db, deviceName, port)
}

func (ss *SQLiteStorage) ExpectedMACLocation(mac string) (string, int, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return expectedMACLocation(ss.db, mac)
}

// txStore exposes the Store surface over an open transaction. The
// storage mutex is already held by WithTx.
type txStore struct {
	q queryer
}

func (t *txStore) UpsertDevice(device *model.Device) error { return upsertDevice(t.q, device) }
func (t *txStore) GetDevice(name string) (*model.Device, error) {
	return getDevice(t.q, name)
}
func (t *txStore) ListDevices() ([]model.Device, error) { return listDevices(t.q) }
func (t *txStore) GetPortSnapshots(deviceName string) (map[int]model.PortSnapshot, error) {
	return getPortSnapshots(t.q, deviceName)
}
func (t *txStore) SavePortSnapshot(snap *model.PortSnapshot) error {
	return savePortSnapshot(t.q, snap)
}
func (t *txStore) GetMACLocation(mac string) (*model.MACLocation, error) {
	return getMACLocation(t.q, mac)
}
func (t *txStore) UpsertMACLocation(mac, device string, port, vlan int, seenAt time.Time) (*model.MACLocation, error) {
	return upsertMACLocation(t.q, mac, device, port, vlan, seenAt)
}
func (t *txStore) ClearMACLocation(mac string, seenAt time.Time) error {
	return clearMACLocation(t.q, mac, seenAt)
}
func (t *txStore) RecordChange(change *model.ChangeRecord) error { return recordChange(t.q, change) }
func (t *txStore) ListChanges(deviceName string, limit int) ([]model.ChangeRecord, error) {
	return listChanges(t.q, deviceName, limit)
}
func (t *txStore) CreateAlarm(alarm *model.Alarm) error { return createAlarm(t.q, alarm) }
func (t *txStore) GetAlarm(id string) (*model.Alarm, error) {
	return getAlarm(t.q, id)
}
func (t *txStore) GetActiveAlarmByFingerprint(fingerprint string) (*model.Alarm, error) {
	return getActiveAlarmByFingerprint(t.q, fingerprint)
}
func (t *txStore) UpdateAlarm(alarm *model.Alarm) error { return updateAlarm(t.q, alarm) }
func (t *txStore) ListAlarms(status model.AlarmStatus, deviceName string) ([]model.Alarm, error) {
	return listAlarms(t.q, status, deviceName)
}
func (t *txStore) AddAlarmHistory(entry *model.AlarmHistory) error {
	return addAlarmHistory(t.q, entry)
}
func (t *txStore) ListAlarmHistory(alarmID string) ([]model.AlarmHistory, error) {
	return listAlarmHistory(t.q, alarmID)
}
func (t *txStore) DeleteResolvedAlarmsBefore(cutoff time.Time) (int64, error) {
	return deleteResolvedAlarmsBefore(t.q, cutoff)
}
func (t *txStore) ReplaceWhitelist(entries []model.WhitelistEntry) error {
	return replaceWhitelist(t.q, entries)
}
func (t *txStore) IsWhitelisted(deviceName string, port int, mac string) (bool, error) {
	return isWhitelisted(t.q, deviceName, port, mac)
}
func (t *txStore) ReplaceExpectedMACs(deviceName string, macs map[int]string) error {
	return replaceExpectedMACs(t.q, deviceName, macs)
}
func (t *txStore) ExpectedMAC(deviceName string, port int) (string, error) {
	return expectedMAC(t.q, deviceName, port)
}
func (t *txStore) ExpectedMACLocation(mac string) (string, int, error) {
	return expectedMACLocation(t.q, mac)
}

// --- Data access helpers ---

func upsertDevice(q queryer, device *model.Device) error {
	now := time.Now()
	if device.ID == "" {
		device.ID = uuid.New().String()
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	if device.Status == "" {
		device.Status = model.DeviceUnknown
	}

	_, err := q.Exec(`
		INSERT INTO devices (id, name, ip_address, vendor, model, status, poll_failures,
		                     system_description, system_uptime, total_ports,
		                     last_poll_time, last_successful_poll, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ip_address = excluded.ip_address,
			vendor = excluded.vendor,
			model = excluded.model,
			status = excluded.status,
			poll_failures = excluded.poll_failures,
			system_description = excluded.system_description,
			system_uptime = excluded.system_uptime,
			total_ports = excluded.total_ports,
			last_poll_time = excluded.last_poll_time,
			last_successful_poll = excluded.last_successful_poll,
			updated_at = excluded.updated_at
	`, device.ID, device.Name, device.IPAddress, device.Vendor, device.Model,
		string(device.Status), device.PollFailures, device.SystemDescription,
		device.SystemUptime, device.TotalPorts, nullTime(device.LastPollTime),
		nullTime(device.LastSuccessfulPoll), device.CreatedAt, device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	// An existing row keeps its identity; read it back
	return q.QueryRow(`SELECT id, created_at FROM devices WHERE name = ?`, device.Name).
		Scan(&device.ID, &device.CreatedAt)
}

const deviceColumns = `id, name, ip_address, vendor, model, status, poll_failures,
	system_description, system_uptime, total_ports,
	last_poll_time, last_successful_poll, created_at, updated_at`

func getDevice(q queryer, name string) (*model.Device, error) {
	row := q.QueryRow(`SELECT `+deviceColumns+` FROM devices WHERE LOWER(name) = LOWER(?) LIMIT 1`, name)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return device, nil
}

func listDevices(q queryer) ([]model.Device, error) {
	rows, err := q.Query(`SELECT ` + deviceColumns + ` FROM devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*model.Device, error) {
	var device model.Device
	var status string
	var lastPoll, lastSuccess sql.NullTime
	err := row.Scan(&device.ID, &device.Name, &device.IPAddress, &device.Vendor,
		&device.Model, &status, &device.PollFailures, &device.SystemDescription,
		&device.SystemUptime, &device.TotalPorts, &lastPoll, &lastSuccess,
		&device.CreatedAt, &device.UpdatedAt)
	if err != nil {
		return nil, err
	}
	device.Status = model.DeviceStatus(status)
	device.LastPollTime = timePtr(lastPoll)
	device.LastSuccessfulPoll = timePtr(lastSuccess)
	return &device, nil
}

func getPortSnapshots(q queryer, deviceName string) (map[int]model.PortSnapshot, error) {
	rows, err := q.Query(`
		SELECT device_name, port_number, port_name, port_alias, admin_status,
		       oper_status, vlan_id, mac_address, all_macs, taken_at
		FROM port_snapshots
		WHERE device_name = ?
	`, deviceName)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[int]model.PortSnapshot)
	for rows.Next() {
		var snap model.PortSnapshot
		var allMACs string
		err := rows.Scan(&snap.DeviceName, &snap.PortNumber, &snap.PortName,
			&snap.PortAlias, &snap.AdminStatus, &snap.OperStatus, &snap.VLANID,
			&snap.MACAddress, &allMACs, &snap.TakenAt)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if allMACs != "" {
			if err := json.Unmarshal([]byte(allMACs), &snap.AllMACs); err != nil {
				return nil, fmt.Errorf("decoding mac list: %w", err)
			}
		}
		snapshots[snap.PortNumber] = snap
	}
	return snapshots, rows.Err()
}

func savePortSnapshot(q queryer, snap *model.PortSnapshot) error {
	allMACs, err := json.Marshal(snap.AllMACs)
	if err != nil {
		return fmt.Errorf("encoding mac list: %w", err)
	}

	_, err = q.Exec(`
		INSERT INTO port_snapshots (device_name, port_number, port_name, port_alias,
		                            admin_status, oper_status, vlan_id, mac_address,
		                            all_macs, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_name, port_number) DO UPDATE SET
			port_name = excluded.port_name,
			port_alias = excluded.port_alias,
			admin_status = excluded.admin_status,
			oper_status = excluded.oper_status,
			vlan_id = excluded.vlan_id,
			mac_address = excluded.mac_address,
			all_macs = excluded.all_macs,
			taken_at = excluded.taken_at
	`, snap.DeviceName, snap.PortNumber, snap.PortName, snap.PortAlias,
		snap.AdminStatus, snap.OperStatus, snap.VLANID, snap.MACAddress,
		string(allMACs), snap.TakenAt)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func getMACLocation(q queryer, mac string) (*model.MACLocation, error) {
	row := q.QueryRow(`
		SELECT mac_address, current_device, current_port, current_vlan,
		       previous_device, previous_port, first_seen, last_seen,
		       last_moved, move_count
		FROM mac_locations
		WHERE mac_address = ?
	`, strings.ToLower(mac))

	var loc model.MACLocation
	var lastMoved sql.NullTime
	err := row.Scan(&loc.MACAddress, &loc.CurrentDevice, &loc.CurrentPort,
		&loc.CurrentVLAN, &loc.PreviousDevice, &loc.PreviousPort,
		&loc.FirstSeen, &loc.LastSeen, &lastMoved, &loc.MoveCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMACNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying mac location: %w", err)
	}
	loc.LastMoved = timePtr(lastMoved)
	return &loc, nil
}

// upsertMACLocation records a sighting. When the MAC shows up somewhere
// other than its current location, the current location is shifted to
// previous before being overwritten.
func upsertMACLocation(q queryer, mac, device string, port, vlan int, seenAt time.Time) (*model.MACLocation, error) {
	mac = strings.ToLower(mac)

	loc, err := getMACLocation(q, mac)
	if errors.Is(err, ErrMACNotFound) {
		loc = &model.MACLocation{
			MACAddress:    mac,
			CurrentDevice: device,
			CurrentPort:   port,
			CurrentVLAN:   vlan,
			FirstSeen:     seenAt,
			LastSeen:      seenAt,
		}
		_, err := q.Exec(`
			INSERT INTO mac_locations (mac_address, current_device, current_port,
			                           current_vlan, previous_device, previous_port,
			                           first_seen, last_seen, last_moved, move_count)
			VALUES (?, ?, ?, ?, '', 0, ?, ?, NULL, 0)
		`, mac, device, port, vlan, seenAt, seenAt)
		if err != nil {
			return nil, fmt.Errorf("inserting mac location: %w", err)
		}
		return loc, nil
	}
	if err != nil {
		return nil, err
	}

	if loc.CurrentDevice != device || loc.CurrentPort != port {
		loc.PreviousDevice = loc.CurrentDevice
		loc.PreviousPort = loc.CurrentPort
		loc.CurrentDevice = device
		loc.CurrentPort = port
		moved := seenAt
		loc.LastMoved = &moved
		loc.MoveCount++
	}
	loc.CurrentVLAN = vlan
	loc.LastSeen = seenAt

	_, err = q.Exec(`
		UPDATE mac_locations
		SET current_device = ?, current_port = ?, current_vlan = ?,
		    previous_device = ?, previous_port = ?, last_seen = ?,
		    last_moved = ?, move_count = ?
		WHERE mac_address = ?
	`, loc.CurrentDevice, loc.CurrentPort, loc.CurrentVLAN,
		loc.PreviousDevice, loc.PreviousPort, loc.LastSeen,
		nullTime(loc.LastMoved), loc.MoveCount, mac)
	if err != nil {
		return nil, fmt.Errorf("updating mac location: %w", err)
	}
	return loc, nil
}

// clearMACLocation marks a MAC as no longer present anywhere: the
// current location is shifted to previous and cleared. A MAC with no
// tracking row is a no-op.
func clearMACLocation(q queryer, mac string, seenAt time.Time) error {
	mac = strings.ToLower(mac)

	loc, err := getMACLocation(q, mac)
	if errors.Is(err, ErrMACNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = q.Exec(`
		UPDATE mac_locations
		SET previous_device = ?, previous_port = ?,
		    current_device = '', current_port = 0, last_seen = ?
		WHERE mac_address = ?
	`, loc.CurrentDevice, loc.CurrentPort, seenAt, mac)
	if err != nil {
		return fmt.Errorf("clearing mac location: %w", err)
	}
	return nil
}

func recordChange(q queryer, change *model.ChangeRecord) error {
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	_, err := q.Exec(`
		INSERT INTO change_records (id, device_name, port_number, change_type,
		                            old_value, new_value, old_mac, new_mac,
		                            from_port, to_port, old_vlan_id, new_vlan_id,
		                            details, alarm_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, change.ID, change.DeviceName, change.PortNumber, string(change.Type),
		change.OldValue, change.NewValue, change.OldMAC, change.NewMAC,
		change.FromPort, change.ToPort, change.OldVLANID, change.NewVLANID,
		change.Details, change.AlarmID, change.Timestamp)
	if err != nil {
		return fmt.Errorf("recording change: %w", err)
	}
	return nil
}

func listChanges(q queryer, deviceName string, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, device_name, port_number, change_type, old_value, new_value,
		       old_mac, new_mac, from_port, to_port, old_vlan_id, new_vlan_id,
		       details, alarm_id, timestamp
		FROM change_records
	`
	args := []any{}
	if deviceName != "" {
		query += ` WHERE device_name = ?`
		args = append(args, deviceName)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var changes []model.ChangeRecord
	for rows.Next() {
		var c model.ChangeRecord
		var changeType string
		err := rows.Scan(&c.ID, &c.DeviceName, &c.PortNumber, &changeType,
			&c.OldValue, &c.NewValue, &c.OldMAC, &c.NewMAC, &c.FromPort,
			&c.ToPort, &c.OldVLANID, &c.NewVLANID, &c.Details, &c.AlarmID,
			&c.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		c.Type = model.ChangeType(changeType)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

const alarmColumns = `id, device_name, alarm_type, severity, status, title, message,
	fingerprint, port_number, mac_address, from_port, to_port,
	old_vlan_id, new_vlan_id, old_value, new_value, occurrence_count,
	notification_sent, first_occurrence, last_occurrence, resolved_at`

func createAlarm(q queryer, alarm *model.Alarm) error {
	if alarm.ID == "" {
		alarm.ID = uuid.New().String()
	}
	if alarm.Status == "" {
		alarm.Status = model.AlarmActive
	}
	if alarm.OccurrenceCount == 0 {
		alarm.OccurrenceCount = 1
	}
	now := time.Now()
	if alarm.FirstOccurrence.IsZero() {
		alarm.FirstOccurrence = now
	}
	if alarm.LastOccurrence.IsZero() {
		alarm.LastOccurrence = now
	}

	_, err := q.Exec(`
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alarm.ID, alarm.DeviceName, alarm.Type, string(alarm.Severity),
		string(alarm.Status), alarm.Title, alarm.Message, alarm.Fingerprint,
		alarm.PortNumber, strings.ToLower(alarm.MACAddress), alarm.FromPort,
		alarm.ToPort, alarm.OldVLANID, alarm.NewVLANID, alarm.OldValue,
		alarm.NewValue, alarm.OccurrenceCount, alarm.NotificationSent,
		alarm.FirstOccurrence, alarm.LastOccurrence, nullTime(alarm.ResolvedAt))
	if err != nil {
		return fmt.Errorf("creating alarm: %w", err)
	}
	return nil
}

func scanAlarm(row rowScanner) (*model.Alarm, error) {
	var alarm model.Alarm
	var severity, status string
	var resolvedAt sql.NullTime
	err := row.Scan(&alarm.ID, &alarm.DeviceName, &alarm.Type, &severity,
		&status, &alarm.Title, &alarm.Message, &alarm.Fingerprint,
		&alarm.PortNumber, &alarm.MACAddress, &alarm.FromPort, &alarm.ToPort,
		&alarm.OldVLANID, &alarm.NewVLANID, &alarm.OldValue, &alarm.NewValue,
		&alarm.OccurrenceCount, &alarm.NotificationSent,
		&alarm.FirstOccurrence, &alarm.LastOccurrence, &resolvedAt)
	if err != nil {
		return nil, err
	}
	alarm.Severity = model.AlarmSeverity(severity)
	alarm.Status = model.AlarmStatus(status)
	alarm.ResolvedAt = timePtr(resolvedAt)
	return &alarm, nil
}

func getAlarm(q queryer, id string) (*model.Alarm, error) {
	row := q.QueryRow(`SELECT `+alarmColumns+` FROM alarms WHERE id = ?`, id)
	alarm, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlarmNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying alarm: %w", err)
	}
	return alarm, nil
}

func getActiveAlarmByFingerprint(q queryer, fingerprint string) (*model.Alarm, error) {
	row := q.QueryRow(`
		SELECT `+alarmColumns+` FROM alarms
		WHERE fingerprint = ? AND status = ?
		LIMIT 1
	`, fingerprint, string(model.AlarmActive))
	alarm, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlarmNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying alarm by fingerprint: %w", err)
	}
	return alarm, nil
}

func updateAlarm(q queryer, alarm *model.Alarm) error {
	result, err := q.Exec(`
		UPDATE alarms
		SET severity = ?, status = ?, title = ?, message = ?,
		    occurrence_count = ?, notification_sent = ?,
		    last_occurrence = ?, resolved_at = ?
		WHERE id = ?
	`, string(alarm.Severity), string(alarm.Status), alarm.Title, alarm.Message,
		alarm.OccurrenceCount, alarm.NotificationSent, alarm.LastOccurrence,
		nullTime(alarm.ResolvedAt), alarm.ID)
	if err != nil {
		return fmt.Errorf("updating alarm: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlarmNotFound
	}
	return nil
}

func listAlarms(q queryer, status model.AlarmStatus, deviceName string) ([]model.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms`
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if deviceName != "" {
		conds = append(conds, "device_name = ?")
		args = append(args, deviceName)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_occurrence DESC"

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alarms: %w", err)
	}
	defer rows.Close()

	var alarms []model.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alarm: %w", err)
		}
		alarms = append(alarms, *alarm)
	}
	return alarms, rows.Err()
}

func addAlarmHistory(q queryer, entry *model.AlarmHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := q.Exec(`
		INSERT INTO alarm_history (id, alarm_id, old_status, new_status, reason, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.AlarmID, string(entry.OldStatus), string(entry.NewStatus),
		entry.Reason, entry.Message, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("adding alarm history: %w", err)
	}
	return nil
}

func listAlarmHistory(q queryer, alarmID string) ([]model.AlarmHistory, error) {
	rows, err := q.Query(`
		SELECT id, alarm_id, old_status, new_status, reason, message, timestamp
		FROM alarm_history
		WHERE alarm_id = ?
		ORDER BY timestamp
	`, alarmID)
	if err != nil {
		return nil, fmt.Errorf("querying alarm history: %w", err)
	}
	defer rows.Close()

	var entries []model.AlarmHistory
	for rows.Next() {
		var e model.AlarmHistory
		var oldStatus, newStatus string
		err := rows.Scan(&e.ID, &e.AlarmID, &oldStatus, &newStatus, &e.Reason,
			&e.Message, &e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scanning alarm history: %w", err)
		}
		e.OldStatus = model.AlarmStatus(oldStatus)
		e.NewStatus = model.AlarmStatus(newStatus)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func deleteResolvedAlarmsBefore(q queryer, cutoff time.Time) (int64, error) {
	result, err := q.Exec(`
		DELETE FROM alarms
		WHERE status = ? AND resolved_at IS NOT NULL AND resolved_at < ?
	`, string(model.AlarmResolved), cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting resolved alarms: %w", err)
	}
	return result.RowsAffected()
}

func replaceWhitelist(q queryer, entries []model.WhitelistEntry) error {
	if _, err := q.Exec(`DELETE FROM mac_whitelist`); err != nil {
		return fmt.Errorf("clearing whitelist: %w", err)
	}
	for _, e := range entries {
		if _, err := q.Exec(`
			INSERT OR IGNORE INTO mac_whitelist (mac_address, device_name, port_number)
			VALUES (?, ?, ?)
		`, strings.ToLower(e.MAC), e.Device, e.Port); err != nil {
			return fmt.Errorf("inserting whitelist entry: %w", err)
		}
	}
	return nil
}

// isWhitelisted matches an entry for the MAC whose device and port are
// either unset or equal to the observed location
func isWhitelisted(q queryer, deviceName string, port int, mac string) (bool, error) {
	var found string
	err := q.QueryRow(`
		SELECT mac_address FROM mac_whitelist
		WHERE mac_address = ?
		  AND (device_name = '' OR device_name = ?)
		  AND (port_number = 0 OR port_number = ?)
		LIMIT 1
	`, strings.ToLower(mac), deviceName, port).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying whitelist: %w", err)
	}
	return true, nil
}

func replaceExpectedMACs(q queryer, deviceName string, macs map[int]string) error {
	if _, err := q.Exec(`DELETE FROM expected_macs WHERE device_name = ?`, deviceName); err != nil {
		return fmt.Errorf("clearing expected macs: %w", err)
	}
	for port, mac := range macs {
		if _, err := q.Exec(`
			INSERT INTO expected_macs (device_name, port_number, mac_address)
			VALUES (?, ?, ?)
		`, deviceName, port, strings.ToLower(mac)); err != nil {
			return fmt.Errorf("inserting expected mac: %w", err)
		}
	}
	return nil
}

// expectedMAC returns the configured MAC for a port, or "" when none is set
func expectedMAC(q queryer, deviceName string, port int) (string, error) {
	var mac string
	err := q.QueryRow(`
		SELECT mac_address FROM expected_macs
		WHERE device_name = ? AND port_number = ?
	`, deviceName, port).Scan(&mac)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying expected mac: %w", err)
	}
	return mac, nil
}

// expectedMACLocation is the reverse lookup: where is this MAC declared
// to live. Returns "" and 0 when the MAC is not registered anywhere.
func expectedMACLocation(q queryer, mac string) (string, int, error) {
	var device string
	var port int
	err := q.QueryRow(`
		SELECT device_name, port_number FROM expected_macs
		WHERE mac_address = ?
		LIMIT 1
	`, strings.ToLower(mac)).Scan(&device, &port)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("querying expected mac location: %w", err)
	}
	return device, port, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	clone := t.Time
	return &clone
}
