package engine

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/alarm"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/notify"
	"github.com/martinsuchenak/switchwatch/internal/poller"
	"github.com/martinsuchenak/switchwatch/internal/snmp"
	"github.com/martinsuchenak/switchwatch/internal/storage"
)

type fakeClient struct {
	mu        sync.Mutex
	reachable bool
	block     chan struct{}
}

func (c *fakeClient) Get(oid string) (snmp.Value, error) { return snmp.Value{}, nil }
func (c *fakeClient) GetMultiple(oids []string) (map[string]any, error) {
	return map[string]any{}, nil
}
func (c *fakeClient) GetBulk(oidPrefix string, maxRepetitions int) ([]snmp.Value, error) {
	return nil, nil
}
func (c *fakeClient) TestConnection() bool {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}
func (c *fakeClient) Close() error { return nil }

// fakeDecoder hands out whatever ports the test staged
type fakeDecoder struct {
	mu    sync.Mutex
	ports []model.PortInfo
}

func (d *fakeDecoder) setPorts(ports []model.PortInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ports = ports
}

func (d *fakeDecoder) Vendor() string { return "cisco" }
func (d *fakeDecoder) Model() string { return "test" }
func (d *fakeDecoder) FiberPortThreshold() int { return 25 }
func (d *fakeDecoder) DeviceInfoOIDs() []string { return nil }
func (d *fakeDecoder) ParseDeviceInfo(data map[string]any) model.DeviceInfo {
	return model.DeviceInfo{SystemName: "fake"}
}
func (d *fakeDecoder) PortInfoOIDs() []string { return nil }
func (d *fakeDecoder) ParsePortInfo(data map[string]any) []model.PortInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ports
}
func (d *fakeDecoder) MACTableOIDs() []string { return nil }
func (d *fakeDecoder) ParseMACTable(data map[string]any) map[int][]string { return nil }

type mockChannel struct{}

func (c *mockChannel) Name() string { return "mock" }
func (c *mockChannel) SendAlarm(a *model.Alarm) bool { return true }
func (c *mockChannel) SendPortDown(deviceName, deviceIP string, port int, portName string) bool {
	return true
}
func (c *mockChannel) SendPortUp(deviceName, deviceIP string, port int, portName string) bool {
	return true
}
func (c *mockChannel) SendDeviceUnreachable(deviceName, deviceIP string, failures int) bool {
	return true
}

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	ss, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error = %v", err)
	}
	t.Cleanup(func() { ss.Close() })
	return ss
}

func TestPollAllPersistsAndDetects(t *testing.T) {
	ss := newTestStorage(t)
	am := alarm.NewManager(ss, []notify.Channel{&mockChannel{}}, alarm.Options{DebounceWindow: time.Minute})

	okDecoder := &fakeDecoder{ports: []model.PortInfo{
		{PortNumber: 1, AdminStatus: "up", OperStatus: "up", VLANID: 10},
	}}
	okDevice := &model.Device{Name: "sw-ok", IPAddress: "10.0.0.1", Vendor: "cisco", Model: "test"}
	deadDevice := &model.Device{Name: "sw-dead", IPAddress: "10.0.0.2", Vendor: "cisco", Model: "test"}

	pollers := []*poller.Poller{
		poller.New(okDevice, &fakeClient{reachable: true}, okDecoder, 25),
		poller.New(deadDevice, &fakeClient{reachable: false}, &fakeDecoder{}, 25),
	}
	eng := New(ss, am, pollers, 2)
	defer eng.Stop()

	results := eng.PollAll()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	got, err := ss.GetDevice("sw-ok")
	if err != nil {
		t.Fatalf("GetDevice(sw-ok) error = %v", err)
	}
	if got.Status != model.DeviceOnline || got.PollFailures != 0 {
		t.Errorf("sw-ok = %s/%d failures, want ONLINE/0", got.Status, got.PollFailures)
	}

	got, err = ss.GetDevice("sw-dead")
	if err != nil {
		t.Fatalf("GetDevice(sw-dead) error = %v", err)
	}
	if got.Status != model.DeviceUnreachable || got.PollFailures != 1 {
		t.Errorf("sw-dead = %s/%d failures, want UNREACHABLE/1", got.Status, got.PollFailures)
	}

	alarms, err := ss.ListAlarms(model.AlarmActive, "sw-dead")
	if err != nil {
		t.Fatalf("ListAlarms() error = %v", err)
	}
	if len(alarms) != 1 || alarms[0].Type != model.AlarmTypeDeviceUnreachable {
		t.Fatalf("sw-dead alarms = %+v, want one device_unreachable", alarms)
	}
	if alarms[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", alarms[0].Severity)
	}

	// Second cycle: VLAN change flows through detection inside the cycle
	okDecoder.setPorts([]model.PortInfo{
		{PortNumber: 1, AdminStatus: "up", OperStatus: "up", VLANID: 20},
	})
	eng.PollAll()

	alarms, err = ss.ListAlarms(model.AlarmActive, "sw-ok")
	if err != nil {
		t.Fatalf("ListAlarms() error = %v", err)
	}
	if len(alarms) != 1 || alarms[0].Type != model.AlarmTypeVLANChanged {
		t.Fatalf("sw-ok alarms = %+v, want one vlan_changed", alarms)
	}

	changes, err := ss.ListChanges("sw-ok", 0)
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Type != model.ChangeVLANChanged {
		t.Errorf("changes = %+v, want one vlan_changed", changes)
	}
}

func TestPollAllRecoversUnreachableDevice(t *testing.T) {
	ss := newTestStorage(t)
	am := alarm.NewManager(ss, nil, alarm.Options{DebounceWindow: time.Minute})

	client := &fakeClient{reachable: false}
	device := &model.Device{Name: "sw-flap", IPAddress: "10.0.0.3", Vendor: "cisco", Model: "test"}
	eng := New(ss, am, []*poller.Poller{poller.New(device, client, &fakeDecoder{}, 25)}, 1)
	defer eng.Stop()

	eng.PollAll()
	eng.PollAll()

	got, err := ss.GetDevice("sw-flap")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.PollFailures != 2 {
		t.Errorf("PollFailures = %d, want 2", got.PollFailures)
	}

	alarms, _ := ss.ListAlarms(model.AlarmActive, "sw-flap")
	if len(alarms) != 1 || alarms[0].OccurrenceCount != 2 {
		t.Fatalf("alarms = %+v, want one with occurrence 2", alarms)
	}

	// Device comes back: alarm resolves, counters reset
	client.mu.Lock()
	client.reachable = true
	client.mu.Unlock()
	eng.PollAll()

	got, _ = ss.GetDevice("sw-flap")
	if got.Status != model.DeviceOnline || got.PollFailures != 0 {
		t.Errorf("recovered device = %s/%d, want ONLINE/0", got.Status, got.PollFailures)
	}
	if alarms, _ = ss.ListAlarms(model.AlarmActive, "sw-flap"); len(alarms) != 0 {
		t.Errorf("recovery left %d active alarms", len(alarms))
	}
}

func TestPollAllSkipsWhileBusy(t *testing.T) {
	ss := newTestStorage(t)
	am := alarm.NewManager(ss, nil, alarm.Options{DebounceWindow: time.Minute})

	block := make(chan struct{})
	client := &fakeClient{reachable: true, block: block}
	device := &model.Device{Name: "sw-slow", IPAddress: "10.0.0.4", Vendor: "cisco", Model: "test"}
	eng := New(ss, am, []*poller.Poller{poller.New(device, client, &fakeDecoder{}, 25)}, 1)
	defer eng.Stop()

	done := make(chan []model.PollResult, 1)
	go func() { done <- eng.PollAll() }()

	// Wait until the first cycle is actually in flight
	for !eng.busy.Load() {
		time.Sleep(time.Millisecond)
	}

	if got := eng.PollAll(); got != nil {
		t.Errorf("overlapping PollAll() = %v, want nil", got)
	}

	close(block)
	if got := <-done; len(got) != 1 {
		t.Errorf("first cycle returned %d results, want 1", len(got))
	}
}
