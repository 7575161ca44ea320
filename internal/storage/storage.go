package storage

import (
	"errors"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/model"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrAlarmNotFound  = errors.New("alarm not found")
	ErrMACNotFound    = errors.New("mac address not found")
)

// Store is the data-access surface shared by direct calls and
// transactional scopes
type Store interface {
	// Devices
	UpsertDevice(device *model.Device) error
	GetDevice(name string) (*model.Device, error)
	ListDevices() ([]model.Device, error)

	// Port snapshots: one live row per device+port, replaced on commit
	GetPortSnapshots(deviceName string) (map[int]model.PortSnapshot, error)
	SavePortSnapshot(snap *model.PortSnapshot) error

	// MAC locations: one row per MAC, globally unique
	GetMACLocation(mac string) (*model.MACLocation, error)
	UpsertMACLocation(mac, device string, port, vlan int, seenAt time.Time) (*model.MACLocation, error)
	ClearMACLocation(mac string, seenAt time.Time) error

	// Change records, append-only
	RecordChange(change *model.ChangeRecord) error
	ListChanges(deviceName string, limit int) ([]model.ChangeRecord, error)

	// Alarms
	CreateAlarm(alarm *model.Alarm) error
	GetAlarm(id string) (*model.Alarm, error)
	GetActiveAlarmByFingerprint(fingerprint string) (*model.Alarm, error)
	UpdateAlarm(alarm *model.Alarm) error
	ListAlarms(status model.AlarmStatus, deviceName string) ([]model.Alarm, error)
	AddAlarmHistory(entry *model.AlarmHistory) error
	ListAlarmHistory(alarmID string) ([]model.AlarmHistory, error)
	DeleteResolvedAlarmsBefore(cutoff time.Time) (int64, error)

	// Suppression lookups, seeded from config at startup
	ReplaceWhitelist(entries []model.WhitelistEntry) error
	IsWhitelisted(deviceName string, port int, mac string) (bool, error)
	ReplaceExpectedMACs(deviceName string, macs map[int]string) error
	ExpectedMAC(deviceName string, port int) (string, error)
	ExpectedMACLocation(mac string) (string, int, error)
}

// Storage is the full persistence contract, adding transactional scope
// and lifecycle to Store
type Storage interface {
	Store

	// WithTx runs fn inside a single transaction. All Store calls made
	// through the passed Store commit or roll back together.
	WithTx(fn func(Store) error) error

	Close() error
}
