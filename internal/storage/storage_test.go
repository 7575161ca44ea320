package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/model"
)

// setupTestStorage creates a temporary SQLite storage for testing
func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	ss, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	return ss
}

func TestUpsertDevice(t *testing.T) {
	ss := setupTestStorage(t)

	device := &model.Device{
		Name:      "sw-core-01",
		IPAddress: "10.0.0.1",
		Vendor:    "cisco",
		Model:     "cbs350",
		Status:    model.DeviceOnline,
	}
	if err := ss.UpsertDevice(device); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if device.ID == "" {
		t.Fatal("UpsertDevice() did not assign an ID")
	}

	// Update through a second upsert keeps the identity
	firstID := device.ID
	firstCreated := device.CreatedAt
	updated := &model.Device{
		Name:         "sw-core-01",
		IPAddress:    "10.0.0.99",
		Vendor:       "cisco",
		Model:        "cbs350",
		Status:       model.DeviceUnreachable,
		PollFailures: 3,
	}
	if err := ss.UpsertDevice(updated); err != nil {
		t.Fatalf("UpsertDevice() update error = %v", err)
	}
	if updated.ID != firstID {
		t.Errorf("upsert changed device ID: %s -> %s", firstID, updated.ID)
	}
	if !updated.CreatedAt.Equal(firstCreated) {
		t.Errorf("upsert changed CreatedAt")
	}

	got, err := ss.GetDevice("sw-core-01")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.IPAddress != "10.0.0.99" {
		t.Errorf("IPAddress = %q, want 10.0.0.99", got.IPAddress)
	}
	if got.Status != model.DeviceUnreachable {
		t.Errorf("Status = %q, want UNREACHABLE", got.Status)
	}
	if got.PollFailures != 3 {
		t.Errorf("PollFailures = %d, want 3", got.PollFailures)
	}
}

func TestGetDeviceCaseInsensitive(t *testing.T) {
	ss := setupTestStorage(t)

	device := &model.Device{Name: "SW-Access-02", IPAddress: "10.0.0.2", Model: "cbs350"}
	if err := ss.UpsertDevice(device); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	if _, err := ss.GetDevice("sw-access-02"); err != nil {
		t.Errorf("GetDevice(lowercase) error = %v", err)
	}
	if _, err := ss.GetDevice("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestPortSnapshotReplace(t *testing.T) {
	ss := setupTestStorage(t)

	snap := &model.PortSnapshot{
		DeviceName:  "sw-core-01",
		PortNumber:  5,
		PortName:    "GigabitEthernet5",
		AdminStatus: "up",
		OperStatus:  "up",
		VLANID:      10,
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		AllMACs:     []string{"aa:bb:cc:dd:ee:ff"},
		TakenAt:     time.Now(),
	}
	if err := ss.SavePortSnapshot(snap); err != nil {
		t.Fatalf("SavePortSnapshot() error = %v", err)
	}

	// Second save for the same port replaces, not appends
	snap.OperStatus = "down"
	snap.AllMACs = nil
	snap.MACAddress = ""
	if err := ss.SavePortSnapshot(snap); err != nil {
		t.Fatalf("SavePortSnapshot() replace error = %v", err)
	}

	snapshots, err := ss.GetPortSnapshots("sw-core-01")
	if err != nil {
		t.Fatalf("GetPortSnapshots() error = %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("len(snapshots) = %d, want 1", len(snapshots))
	}
	got := snapshots[5]
	if got.OperStatus != "down" {
		t.Errorf("OperStatus = %q, want down", got.OperStatus)
	}
	if len(got.AllMACs) != 0 {
		t.Errorf("AllMACs = %v, want empty", got.AllMACs)
	}
}

func TestUpsertMACLocationShiftsOnMove(t *testing.T) {
	ss := setupTestStorage(t)
	now := time.Now()

	loc, err := ss.UpsertMACLocation("AA:BB:CC:DD:EE:FF", "sw-core-01", 5, 10, now)
	if err != nil {
		t.Fatalf("UpsertMACLocation() error = %v", err)
	}
	if loc.MACAddress != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("MACAddress = %q, want lowercase", loc.MACAddress)
	}
	if loc.MoveCount != 0 {
		t.Errorf("MoveCount = %d, want 0", loc.MoveCount)
	}

	// Same location only refreshes last_seen
	loc, err = ss.UpsertMACLocation("aa:bb:cc:dd:ee:ff", "sw-core-01", 5, 10, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpsertMACLocation() error = %v", err)
	}
	if loc.MoveCount != 0 || loc.LastMoved != nil {
		t.Errorf("same-location sighting recorded as move: count=%d moved=%v", loc.MoveCount, loc.LastMoved)
	}

	// New location shifts current to previous
	loc, err = ss.UpsertMACLocation("aa:bb:cc:dd:ee:ff", "sw-access-02", 12, 20, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("UpsertMACLocation() error = %v", err)
	}
	if loc.PreviousDevice != "sw-core-01" || loc.PreviousPort != 5 {
		t.Errorf("previous = %s/%d, want sw-core-01/5", loc.PreviousDevice, loc.PreviousPort)
	}
	if loc.CurrentDevice != "sw-access-02" || loc.CurrentPort != 12 {
		t.Errorf("current = %s/%d, want sw-access-02/12", loc.CurrentDevice, loc.CurrentPort)
	}
	if loc.MoveCount != 1 || loc.LastMoved == nil {
		t.Errorf("MoveCount = %d, LastMoved = %v", loc.MoveCount, loc.LastMoved)
	}

	// Reads normalize case too
	got, err := ss.GetMACLocation("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetMACLocation() error = %v", err)
	}
	if got.CurrentDevice != "sw-access-02" {
		t.Errorf("CurrentDevice = %q", got.CurrentDevice)
	}

	if _, err := ss.GetMACLocation("00:00:00:00:00:01"); !errors.Is(err, ErrMACNotFound) {
		t.Errorf("GetMACLocation(unknown) error = %v, want ErrMACNotFound", err)
	}
}

func TestClearMACLocation(t *testing.T) {
	ss := setupTestStorage(t)
	now := time.Now()

	if _, err := ss.UpsertMACLocation("aa:bb:cc:dd:ee:01", "sw-core-01", 3, 10, now); err != nil {
		t.Fatalf("UpsertMACLocation() error = %v", err)
	}

	if err := ss.ClearMACLocation("AA:BB:CC:DD:EE:01", now.Add(time.Minute)); err != nil {
		t.Fatalf("ClearMACLocation() error = %v", err)
	}

	loc, err := ss.GetMACLocation("aa:bb:cc:dd:ee:01")
	if err != nil {
		t.Fatalf("GetMACLocation() error = %v", err)
	}
	if loc.CurrentDevice != "" || loc.CurrentPort != 0 {
		t.Errorf("current = %q/%d, want cleared", loc.CurrentDevice, loc.CurrentPort)
	}
	if loc.PreviousDevice != "sw-core-01" || loc.PreviousPort != 3 {
		t.Errorf("previous = %q/%d, want sw-core-01/3", loc.PreviousDevice, loc.PreviousPort)
	}

	// Unknown MAC is a no-op, not an error
	if err := ss.ClearMACLocation("00:00:00:00:00:99", now); err != nil {
		t.Errorf("ClearMACLocation(unknown) error = %v", err)
	}
}

func TestChangeRecords(t *testing.T) {
	ss := setupTestStorage(t)

	for i := 0; i < 3; i++ {
		change := &model.ChangeRecord{
			DeviceName: "sw-core-01",
			PortNumber: i + 1,
			Type:       model.ChangeMACAdded,
			NewMAC:     "aa:bb:cc:dd:ee:ff",
			Details:    "new device connected",
		}
		if err := ss.RecordChange(change); err != nil {
			t.Fatalf("RecordChange() error = %v", err)
		}
		if change.ID == "" {
			t.Fatal("RecordChange() did not assign an ID")
		}
	}
	other := &model.ChangeRecord{DeviceName: "sw-access-02", Type: model.ChangeVLANChanged}
	if err := ss.RecordChange(other); err != nil {
		t.Fatalf("RecordChange() error = %v", err)
	}

	all, err := ss.ListChanges("", 0)
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}

	filtered, err := ss.ListChanges("sw-core-01", 2)
	if err != nil {
		t.Fatalf("ListChanges(filtered) error = %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("len(filtered) = %d, want 2", len(filtered))
	}
	for _, c := range filtered {
		if c.DeviceName != "sw-core-01" {
			t.Errorf("filtered change from %q", c.DeviceName)
		}
	}
}

func TestAlarmLifecycle(t *testing.T) {
	ss := setupTestStorage(t)

	alarm := &model.Alarm{
		DeviceName:  "sw-core-01",
		Type:        model.AlarmTypeMACMoved,
		Severity:    model.SeverityHigh,
		Title:       "MAC moved",
		Fingerprint: "sw-core-01|5|AA:BB:CC:DD:EE:FF|sw-core-01:5|sw-access-02:12|mac_moved",
		MACAddress:  "AA:BB:CC:DD:EE:FF",
	}
	if err := ss.CreateAlarm(alarm); err != nil {
		t.Fatalf("CreateAlarm() error = %v", err)
	}
	if alarm.Status != model.AlarmActive || alarm.OccurrenceCount != 1 {
		t.Errorf("defaults not applied: status=%s count=%d", alarm.Status, alarm.OccurrenceCount)
	}

	found, err := ss.GetActiveAlarmByFingerprint(alarm.Fingerprint)
	if err != nil {
		t.Fatalf("GetActiveAlarmByFingerprint() error = %v", err)
	}
	if found.ID != alarm.ID {
		t.Errorf("fingerprint lookup returned %s, want %s", found.ID, alarm.ID)
	}

	// Resolve and verify the fingerprint no longer matches an active alarm
	now := time.Now()
	found.Status = model.AlarmResolved
	found.ResolvedAt = &now
	if err := ss.UpdateAlarm(found); err != nil {
		t.Fatalf("UpdateAlarm() error = %v", err)
	}
	if _, err := ss.GetActiveAlarmByFingerprint(alarm.Fingerprint); !errors.Is(err, ErrAlarmNotFound) {
		t.Errorf("resolved alarm still active: err = %v", err)
	}

	if err := ss.AddAlarmHistory(&model.AlarmHistory{
		AlarmID:   alarm.ID,
		OldStatus: model.AlarmActive,
		NewStatus: model.AlarmResolved,
		Reason:    "condition cleared",
	}); err != nil {
		t.Fatalf("AddAlarmHistory() error = %v", err)
	}
	history, err := ss.ListAlarmHistory(alarm.ID)
	if err != nil {
		t.Fatalf("ListAlarmHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].NewStatus != model.AlarmResolved {
		t.Errorf("history = %+v", history)
	}
}

func TestListAlarmsFilters(t *testing.T) {
	ss := setupTestStorage(t)

	seed := []*model.Alarm{
		{DeviceName: "sw-core-01", Type: model.AlarmTypePortDown, Severity: model.SeverityHigh, Fingerprint: "fp1"},
		{DeviceName: "sw-core-01", Type: model.AlarmTypeVLANChanged, Severity: model.SeverityMedium, Fingerprint: "fp2"},
		{DeviceName: "sw-access-02", Type: model.AlarmTypePortDown, Severity: model.SeverityHigh, Fingerprint: "fp3"},
	}
	for _, a := range seed {
		if err := ss.CreateAlarm(a); err != nil {
			t.Fatalf("CreateAlarm() error = %v", err)
		}
	}
	resolved := seed[1]
	now := time.Now()
	resolved.Status = model.AlarmResolved
	resolved.ResolvedAt = &now
	if err := ss.UpdateAlarm(resolved); err != nil {
		t.Fatalf("UpdateAlarm() error = %v", err)
	}

	active, err := ss.ListAlarms(model.AlarmActive, "")
	if err != nil {
		t.Fatalf("ListAlarms() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("len(active) = %d, want 2", len(active))
	}

	byDevice, err := ss.ListAlarms(model.AlarmActive, "sw-core-01")
	if err != nil {
		t.Fatalf("ListAlarms(device) error = %v", err)
	}
	if len(byDevice) != 1 || byDevice[0].Fingerprint != "fp1" {
		t.Errorf("byDevice = %+v", byDevice)
	}
}

func TestDeleteResolvedAlarmsBefore(t *testing.T) {
	ss := setupTestStorage(t)

	old := &model.Alarm{DeviceName: "sw-core-01", Type: model.AlarmTypePortDown, Severity: model.SeverityHigh, Fingerprint: "fp-old"}
	if err := ss.CreateAlarm(old); err != nil {
		t.Fatalf("CreateAlarm() error = %v", err)
	}
	resolvedAt := time.Now().Add(-48 * time.Hour)
	old.Status = model.AlarmResolved
	old.ResolvedAt = &resolvedAt
	if err := ss.UpdateAlarm(old); err != nil {
		t.Fatalf("UpdateAlarm() error = %v", err)
	}

	active := &model.Alarm{DeviceName: "sw-core-01", Type: model.AlarmTypePortUp, Severity: model.SeverityInfo, Fingerprint: "fp-active"}
	if err := ss.CreateAlarm(active); err != nil {
		t.Fatalf("CreateAlarm() error = %v", err)
	}

	deleted, err := ss.DeleteResolvedAlarmsBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteResolvedAlarmsBefore() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := ss.GetAlarm(active.ID); err != nil {
		t.Errorf("active alarm removed: %v", err)
	}
}

func TestWhitelistAndExpectedMACs(t *testing.T) {
	ss := setupTestStorage(t)

	if err := ss.ReplaceWhitelist([]model.WhitelistEntry{
		{MAC: "AA:BB:CC:DD:EE:FF"},
		{MAC: "11:22:33:44:55:66", Device: "sw-core-01", Port: 5},
	}); err != nil {
		t.Fatalf("ReplaceWhitelist() error = %v", err)
	}
	ok, err := ss.IsWhitelisted("sw-access-02", 3, "aa:bb:cc:dd:ee:ff")
	if err != nil || !ok {
		t.Errorf("IsWhitelisted(wildcard entry) = %v, %v", ok, err)
	}
	ok, err = ss.IsWhitelisted("sw-core-01", 5, "11:22:33:44:55:66")
	if err != nil || !ok {
		t.Errorf("IsWhitelisted(scoped entry, matching port) = %v, %v", ok, err)
	}
	ok, err = ss.IsWhitelisted("sw-core-01", 6, "11:22:33:44:55:66")
	if err != nil || ok {
		t.Errorf("IsWhitelisted(scoped entry, wrong port) = %v, %v", ok, err)
	}
	ok, err = ss.IsWhitelisted("sw-core-01", 5, "00:00:00:00:00:01")
	if err != nil || ok {
		t.Errorf("IsWhitelisted(unknown) = %v, %v", ok, err)
	}

	// Replace drops entries not in the new list
	if err := ss.ReplaceWhitelist([]model.WhitelistEntry{{MAC: "11:22:33:44:55:66"}}); err != nil {
		t.Fatalf("ReplaceWhitelist() error = %v", err)
	}
	ok, _ = ss.IsWhitelisted("sw-access-02", 3, "aa:bb:cc:dd:ee:ff")
	if ok {
		t.Error("stale whitelist entry survived replace")
	}

	if err := ss.ReplaceExpectedMACs("sw-core-01", map[int]string{5: "AA:BB:CC:DD:EE:01"}); err != nil {
		t.Fatalf("ReplaceExpectedMACs() error = %v", err)
	}
	mac, err := ss.ExpectedMAC("sw-core-01", 5)
	if err != nil {
		t.Fatalf("ExpectedMAC() error = %v", err)
	}
	if mac != "aa:bb:cc:dd:ee:01" {
		t.Errorf("ExpectedMAC = %q, want lowercase aa:bb:cc:dd:ee:01", mac)
	}
	mac, err = ss.ExpectedMAC("sw-core-01", 6)
	if err != nil || mac != "" {
		t.Errorf("ExpectedMAC(unset) = %q, %v", mac, err)
	}

	dev, port, err := ss.ExpectedMACLocation("aa:bb:cc:dd:ee:01")
	if err != nil {
		t.Fatalf("ExpectedMACLocation() error = %v", err)
	}
	if dev != "sw-core-01" || port != 5 {
		t.Errorf("ExpectedMACLocation = %s/%d, want sw-core-01/5", dev, port)
	}
	dev, port, err = ss.ExpectedMACLocation("00:00:00:00:00:42")
	if err != nil || dev != "" || port != 0 {
		t.Errorf("ExpectedMACLocation(unknown) = %s/%d, %v", dev, port, err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ss := setupTestStorage(t)

	err := ss.WithTx(func(s Store) error {
		if err := s.RecordChange(&model.ChangeRecord{
			DeviceName: "sw-core-01",
			Type:       model.ChangeMACAdded,
		}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("WithTx() error = nil, want boom")
	}

	changes, err := ss.ListChanges("", 0)
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("rolled-back change persisted: %+v", changes)
	}
}

func TestWithTxCommits(t *testing.T) {
	ss := setupTestStorage(t)

	err := ss.WithTx(func(s Store) error {
		if err := s.SavePortSnapshot(&model.PortSnapshot{
			DeviceName: "sw-core-01",
			PortNumber: 1,
			TakenAt:    time.Now(),
		}); err != nil {
			return err
		}
		return s.RecordChange(&model.ChangeRecord{
			DeviceName: "sw-core-01",
			PortNumber: 1,
			Type:       model.ChangeStatusChanged,
		})
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	snapshots, err := ss.GetPortSnapshots("sw-core-01")
	if err != nil {
		t.Fatalf("GetPortSnapshots() error = %v", err)
	}
	if len(snapshots) != 1 {
		t.Errorf("len(snapshots) = %d, want 1", len(snapshots))
	}
	changes, err := ss.ListChanges("sw-core-01", 0)
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("len(changes) = %d, want 1", len(changes))
	}
}
