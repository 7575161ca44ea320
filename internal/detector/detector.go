// Package detector compares freshly polled port state against the
// persisted snapshot and turns differences into change records and
// alarms. Rules run in a fixed order because several of them read and
// update the shared MAC tracking rows.
package detector

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/alarm"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/storage"
)

// Store is the persistence surface the detector needs, satisfied by
// storage.Store inside or outside a transaction
type Store interface {
	SavePortSnapshot(snap *model.PortSnapshot) error
	GetMACLocation(mac string) (*model.MACLocation, error)
	UpsertMACLocation(mac, device string, port, vlan int, seenAt time.Time) (*model.MACLocation, error)
	ClearMACLocation(mac string, seenAt time.Time) error
	RecordChange(change *model.ChangeRecord) error
	ExpectedMAC(deviceName string, port int) (string, error)
	ExpectedMACLocation(mac string) (string, int, error)
}

// Alarms is the alarm manager surface the detector raises through
type Alarms interface {
	GetOrCreateAlarm(r alarm.Raise) (*model.Alarm, bool, error)
	Notify(a *model.Alarm) bool
	CheckPortStatus(device *model.Device, port model.PortInfo, prev *model.PortSnapshot) error
}

// Options configures a Detector
type Options struct {
	// FiberPortThreshold marks ports at or above this number as
	// fiber/uplink ports. Zero disables the numeric check.
	FiberPortThreshold int
	Clock              func() time.Time
}

// Detector runs the per-port change rules for one device. It is cheap
// to construct, so callers typically build one per device transaction.
type Detector struct {
	store          Store
	alarms         Alarms
	fiberThreshold int
	now            func() time.Time
}

// New creates a detector over the given store and alarm manager
func New(store Store, alarms Alarms, opts Options) *Detector {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Detector{
		store:          store,
		alarms:         alarms,
		fiberThreshold: opts.FiberPortThreshold,
		now:            opts.Clock,
	}
}

var fiberKeywords = []string{"sfp", "fiber", "uplink", "trunk"}

// isFiberPort classifies fiber/uplink/trunk ports. Such ports aggregate
// many devices' traffic, so MAC and description churn on them is noise.
func (d *Detector) isFiberPort(port model.PortInfo) bool {
	name := strings.ToLower(port.PortName)
	alias := strings.ToLower(port.PortAlias)
	for _, kw := range fiberKeywords {
		if strings.Contains(name, kw) || strings.Contains(alias, kw) {
			return true
		}
	}
	return d.fiberThreshold > 0 && port.PortNumber >= d.fiberThreshold
}

// macSet collects the port's primary MAC and observed MAC list into one
// uppercased set
func macSet(primary string, all []string) map[string]bool {
	set := make(map[string]bool)
	if mac := strings.ToUpper(strings.TrimSpace(primary)); mac != "" {
		set[mac] = true
	}
	for _, mac := range all {
		if mac = strings.ToUpper(strings.TrimSpace(mac)); mac != "" {
			set[mac] = true
		}
	}
	return set
}

func vlanString(id int) string {
	if id == 0 {
		return "none"
	}
	return fmt.Sprintf("%d", id)
}

func locationString(device string, port int) string {
	if device == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s port %d", device, port)
}

// DetectDevice runs change detection for every polled port of a device
// and returns all recorded changes
func (d *Detector) DetectDevice(device *model.Device, ports []model.PortInfo, prev map[int]model.PortSnapshot) ([]model.ChangeRecord, error) {
	var changes []model.ChangeRecord
	for _, port := range ports {
		var snap *model.PortSnapshot
		if s, ok := prev[port.PortNumber]; ok {
			snap = &s
		}
		portChanges, err := d.DetectPort(device, port, snap)
		if err != nil {
			return changes, fmt.Errorf("port %d: %w", port.PortNumber, err)
		}
		changes = append(changes, portChanges...)
	}
	return changes, nil
}

// DetectPort runs the change rules for one port against its previous
// snapshot and commits the new snapshot last, so the baseline always
// reflects the state as of the previous completed pass.
func (d *Detector) DetectPort(device *model.Device, port model.PortInfo, prev *model.PortSnapshot) ([]model.ChangeRecord, error) {
	var changes []model.ChangeRecord
	record := func(c *model.ChangeRecord) error {
		c.DeviceName = device.Name
		c.PortNumber = port.PortNumber
		c.Timestamp = d.now()
		if err := d.store.RecordChange(c); err != nil {
			return err
		}
		changes = append(changes, *c)
		return nil
	}

	if prev == nil {
		// First sighting of this port: establish the baseline. An
		// operator expectation can already be violated on first sight,
		// so the mismatch rule still runs.
		if err := d.checkConfigMismatch(device, port, record); err != nil {
			return changes, err
		}
		if err := d.commitSnapshot(device, port); err != nil {
			return changes, err
		}
		log.Debug("Created initial port snapshot", "device", device.Name, "port", port.PortNumber)
		return changes, nil
	}

	if err := d.checkMACSet(device, port, prev, record); err != nil {
		return changes, err
	}
	if err := d.checkVLAN(device, port, prev, record); err != nil {
		return changes, err
	}
	if err := d.checkDescription(device, port, prev, record); err != nil {
		return changes, err
	}
	if err := d.checkPrimaryMAC(device, port, prev, record); err != nil {
		return changes, err
	}
	if err := d.checkConfigMismatch(device, port, record); err != nil {
		return changes, err
	}
	if err := d.checkStatus(device, port, prev, record); err != nil {
		return changes, err
	}

	return changes, d.commitSnapshot(device, port)
}

func (d *Detector) commitSnapshot(device *model.Device, port model.PortInfo) error {
	return d.store.SavePortSnapshot(&model.PortSnapshot{
		DeviceName:  device.Name,
		PortNumber:  port.PortNumber,
		PortName:    port.PortName,
		PortAlias:   port.PortAlias,
		AdminStatus: port.AdminStatus,
		OperStatus:  port.OperStatus,
		VLANID:      port.VLANID,
		MACAddress:  port.MACAddress,
		AllMACs:     port.AllMACs,
		TakenAt:     d.now(),
	})
}

// checkMACSet diffs the observed MAC set against the previous snapshot.
// Removed MACs lose their current location; added MACs go through move
// resolution.
func (d *Detector) checkMACSet(device *model.Device, port model.PortInfo, prev *model.PortSnapshot, record func(*model.ChangeRecord) error) error {
	current := macSet(port.MACAddress, port.AllMACs)
	previous := macSet(prev.MACAddress, prev.AllMACs)

	for mac := range previous {
		if current[mac] {
			continue
		}
		if err := d.store.ClearMACLocation(mac, d.now()); err != nil {
			return err
		}
		if err := record(&model.ChangeRecord{
			Type:    model.ChangeMACRemoved,
			OldMAC:  mac,
			Details: fmt.Sprintf("MAC %s removed from port %d", mac, port.PortNumber),
		}); err != nil {
			return err
		}
	}

	for mac := range current {
		if previous[mac] {
			continue
		}
		if err := d.resolveAddedMAC(device, port, mac, record); err != nil {
			return err
		}
	}
	return nil
}

// resolveAddedMAC decides whether a newly observed MAC is arriving at
// its declared home, moving from somewhere else, or brand new.
func (d *Detector) resolveAddedMAC(device *model.Device, port model.PortInfo, mac string, record func(*model.ChangeRecord) error) error {
	now := d.now()

	// A MAC arriving at the port the operator registered it for is the
	// expected configuration, not a change.
	expected, err := d.store.ExpectedMAC(device.Name, port.PortNumber)
	if err != nil {
		return err
	}
	if expected != "" && strings.EqualFold(expected, mac) {
		log.Debug("MAC matches registered port, no alarm",
			"device", device.Name, "port", port.PortNumber, "mac", mac)
		_, err := d.store.UpsertMACLocation(mac, device.Name, port.PortNumber, port.VLANID, now)
		return err
	}

	loc, err := d.store.GetMACLocation(mac)
	if errors.Is(err, storage.ErrMACNotFound) {
		// First sighting anywhere
		if _, err := d.store.UpsertMACLocation(mac, device.Name, port.PortNumber, port.VLANID, now); err != nil {
			return err
		}
		regDevice, regPort, err := d.store.ExpectedMACLocation(mac)
		if err != nil {
			return err
		}
		if regDevice == device.Name && regPort == port.PortNumber {
			// Expected first appearance
			return nil
		}
		return record(&model.ChangeRecord{
			Type:      model.ChangeMACAdded,
			NewMAC:    mac,
			NewVLANID: port.VLANID,
			Details:   fmt.Sprintf("New MAC %s detected on %s port %d", mac, device.Name, port.PortNumber),
		})
	}
	if err != nil {
		return err
	}

	if strings.EqualFold(loc.CurrentDevice, device.Name) && loc.CurrentPort == port.PortNumber {
		// Same location, refresh last seen
		_, err := d.store.UpsertMACLocation(mac, device.Name, port.PortNumber, port.VLANID, now)
		return err
	}

	// Moved. Capture the prior location before the upsert shifts it.
	oldDevice, oldPort := loc.CurrentDevice, loc.CurrentPort
	oldVLAN := loc.CurrentVLAN
	if _, err := d.store.UpsertMACLocation(mac, device.Name, port.PortNumber, port.VLANID, now); err != nil {
		return err
	}

	// When the tracking record had no prior location on file, a registry
	// entry is a better old-value display than "unknown".
	oldValue := locationString(oldDevice, oldPort)
	if oldDevice == "" {
		if regDevice, regPort, err := d.store.ExpectedMACLocation(mac); err == nil && regDevice != "" {
			oldValue = locationString(regDevice, regPort)
		}
	}
	newValue := locationString(device.Name, port.PortNumber)
	details := fmt.Sprintf("MAC %s moved from %s to %s", mac, oldValue, newValue)

	change := &model.ChangeRecord{
		Type:      model.ChangeMACMoved,
		OldMAC:    mac,
		NewMAC:    mac,
		FromPort:  oldPort,
		ToPort:    port.PortNumber,
		OldVLANID: oldVLAN,
		NewVLANID: port.VLANID,
		Details:   details,
	}

	raised, isNew, err := d.alarms.GetOrCreateAlarm(alarm.Raise{
		Device:      device.Name,
		Type:        model.AlarmTypeMACMoved,
		Severity:    string(model.SeverityHigh),
		Title:       fmt.Sprintf("MAC %s moved to port %d", mac, port.PortNumber),
		Message:     details,
		Port:        port.PortNumber,
		MAC:         mac,
		FromPort:    fmt.Sprintf("%s:%d", oldDevice, oldPort),
		ToPort:      fmt.Sprintf("%s:%d", device.Name, port.PortNumber),
		FromPortNum: oldPort,
		ToPortNum:   port.PortNumber,
		OldValue:    oldValue,
		NewValue:    newValue,
		OldVLANID:   oldVLAN,
		NewVLANID:   port.VLANID,
	})
	if err != nil {
		return err
	}
	if raised != nil {
		change.AlarmID = raised.ID
		if isNew {
			d.alarms.Notify(raised)
		}
	}
	log.Warn("MAC moved", "mac", mac, "from", oldValue, "to", newValue)
	return record(change)
}

func (d *Detector) checkVLAN(device *model.Device, port model.PortInfo, prev *model.PortSnapshot, record func(*model.ChangeRecord) error) error {
	if port.VLANID == prev.VLANID {
		return nil
	}

	oldValue := vlanString(prev.VLANID)
	newValue := vlanString(port.VLANID)
	details := fmt.Sprintf("VLAN changed on %s port %d from %s to %s",
		device.Name, port.PortNumber, oldValue, newValue)

	change := &model.ChangeRecord{
		Type:      model.ChangeVLANChanged,
		OldVLANID: prev.VLANID,
		NewVLANID: port.VLANID,
		OldValue:  oldValue,
		NewValue:  newValue,
		Details:   details,
	}

	raised, isNew, err := d.alarms.GetOrCreateAlarm(alarm.Raise{
		Device:    device.Name,
		Type:      model.AlarmTypeVLANChanged,
		Severity:  string(model.SeverityMedium),
		Title:     fmt.Sprintf("VLAN changed on port %d", port.PortNumber),
		Message:   details,
		Port:      port.PortNumber,
		OldVLANID: prev.VLANID,
		NewVLANID: port.VLANID,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
	if err != nil {
		return err
	}
	if raised != nil {
		change.AlarmID = raised.ID
		if isNew {
			d.alarms.Notify(raised)
		}
	}
	log.Info("VLAN change detected", "device", device.Name, "port", port.PortNumber,
		"old", oldValue, "new", newValue)
	return record(change)
}

func (d *Detector) checkDescription(device *model.Device, port model.PortInfo, prev *model.PortSnapshot, record func(*model.ChangeRecord) error) error {
	if d.isFiberPort(port) {
		return nil
	}

	if port.PortAlias == prev.PortAlias {
		return nil
	}

	oldValue := prev.PortAlias
	if oldValue == "" {
		oldValue = "(empty)"
	}
	newValue := port.PortAlias
	if newValue == "" {
		newValue = "(empty)"
	}
	details := fmt.Sprintf("Description changed on %s port %d from '%s' to '%s'",
		device.Name, port.PortNumber, oldValue, newValue)

	change := &model.ChangeRecord{
		Type:     model.ChangeDescriptionChanged,
		OldValue: oldValue,
		NewValue: newValue,
		Details:  details,
	}

	raised, isNew, err := d.alarms.GetOrCreateAlarm(alarm.Raise{
		Device:   device.Name,
		Type:     model.AlarmTypeDescChanged,
		Severity: string(model.SeverityMedium),
		Title:    fmt.Sprintf("Description changed on port %d", port.PortNumber),
		Message:  details,
		Port:     port.PortNumber,
		OldValue: oldValue,
		NewValue: newValue,
	})
	if err != nil {
		return err
	}
	if raised != nil {
		change.AlarmID = raised.ID
		if isNew {
			d.alarms.Notify(raised)
		}
	}
	log.Info("Description change detected", "device", device.Name, "port", port.PortNumber)
	return record(change)
}

// checkPrimaryMAC compares only the single resolved MAC field between
// snapshots. A MAC-to-MAC difference is a physical device swap and
// always alarms; a transition to or from empty is a connect or
// disconnect and only records a change.
func (d *Detector) checkPrimaryMAC(device *model.Device, port model.PortInfo, prev *model.PortSnapshot, record func(*model.ChangeRecord) error) error {
	if d.isFiberPort(port) {
		return nil
	}

	currentMAC := strings.ToUpper(strings.TrimSpace(port.MACAddress))
	previousMAC := strings.ToUpper(strings.TrimSpace(prev.MACAddress))
	if currentMAC == previousMAC {
		return nil
	}

	if currentMAC == "" || previousMAC == "" {
		display := func(mac string) string {
			if mac == "" {
				return "(empty)"
			}
			return mac
		}
		event := "connected"
		if currentMAC == "" {
			event = "disconnected"
		}
		return record(&model.ChangeRecord{
			Type:     model.ChangeMACMoved,
			OldMAC:   previousMAC,
			NewMAC:   currentMAC,
			OldValue: display(previousMAC),
			NewValue: display(currentMAC),
			Details: fmt.Sprintf("MAC changed on %s port %d from '%s' to '%s' (device %s)",
				device.Name, port.PortNumber, display(previousMAC), display(currentMAC), event),
		})
	}

	details := fmt.Sprintf("MAC address changed on %s port %d from '%s' to '%s'",
		device.Name, port.PortNumber, previousMAC, currentMAC)

	change := &model.ChangeRecord{
		Type:     model.ChangeMACMoved,
		OldMAC:   previousMAC,
		NewMAC:   currentMAC,
		OldValue: previousMAC,
		NewValue: currentMAC,
		Details:  details,
	}

	// A differing MAC-to-MAC change is a swap by definition, so the
	// whitelist is not consulted here.
	raised, isNew, err := d.alarms.GetOrCreateAlarm(alarm.Raise{
		Device:        device.Name,
		Type:          model.AlarmTypeMACMoved,
		Severity:      string(model.SeverityHigh),
		Title:         fmt.Sprintf("MAC address changed on port %d", port.PortNumber),
		Message:       details,
		Port:          port.PortNumber,
		MAC:           currentMAC,
		OldValue:      previousMAC,
		NewValue:      currentMAC,
		SkipWhitelist: true,
	})
	if err != nil {
		return err
	}
	if raised != nil {
		change.AlarmID = raised.ID
		if isNew {
			d.alarms.Notify(raised)
		}
	}
	log.Warn("MAC address swap detected", "device", device.Name,
		"port", port.PortNumber, "old", previousMAC, "new", currentMAC)
	return record(change)
}

// checkConfigMismatch compares the operator's expected MAC for a port
// against what was actually observed. An explicit expectation overrides
// the whitelist.
func (d *Detector) checkConfigMismatch(device *model.Device, port model.PortInfo, record func(*model.ChangeRecord) error) error {
	expected, err := d.store.ExpectedMAC(device.Name, port.PortNumber)
	if err != nil {
		return err
	}
	if expected == "" {
		return nil
	}
	expected = strings.ToUpper(expected)

	current := macSet(port.MACAddress, port.AllMACs)
	if current[expected] {
		return nil
	}

	if len(current) == 0 {
		// Expected MAC configured but the port is empty. A disconnect
		// is already covered by the removal rule; repeating a "no MAC"
		// alarm every cycle while the device stays unplugged is noise.
		log.Debug("Expected MAC absent on empty port, skipping alarm",
			"device", device.Name, "port", port.PortNumber, "expected", expected)
		return nil
	}

	actual := make([]string, 0, len(current))
	for mac := range current {
		actual = append(actual, mac)
	}
	sort.Strings(actual)
	actualList := strings.Join(actual, ", ")

	details := fmt.Sprintf("MAC address mismatch on %s port %d: expected '%s' but found '%s'",
		device.Name, port.PortNumber, expected, actualList)

	change := &model.ChangeRecord{
		Type:     model.ChangeMACMoved,
		OldValue: expected,
		NewValue: actualList,
		Details:  details,
	}

	raised, isNew, err := d.alarms.GetOrCreateAlarm(alarm.Raise{
		Device:        device.Name,
		Type:          model.AlarmTypeMACMoved,
		Severity:      string(model.SeverityHigh),
		Title:         fmt.Sprintf("MAC mismatch on port %d", port.PortNumber),
		Message:       details,
		Port:          port.PortNumber,
		MAC:           actual[0],
		OldValue:      expected,
		NewValue:      actualList,
		SkipWhitelist: true,
	})
	if err != nil {
		return err
	}
	if raised != nil {
		change.AlarmID = raised.ID
		if isNew {
			d.alarms.Notify(raised)
		}
	}
	log.Warn("MAC configuration mismatch", "device", device.Name,
		"port", port.PortNumber, "expected", expected, "found", actualList)
	return record(change)
}

func (d *Detector) checkStatus(device *model.Device, port model.PortInfo, prev *model.PortSnapshot, record func(*model.ChangeRecord) error) error {
	if port.OperStatus == prev.OperStatus {
		return nil
	}

	if err := record(&model.ChangeRecord{
		Type:     model.ChangeStatusChanged,
		OldValue: prev.OperStatus,
		NewValue: port.OperStatus,
		Details: fmt.Sprintf("Status changed on %s port %d from %s to %s",
			device.Name, port.PortNumber, prev.OperStatus, port.OperStatus),
	}); err != nil {
		return err
	}

	// Port up/down alarm handling lives in the alarm manager
	return d.alarms.CheckPortStatus(device, port, prev)
}
