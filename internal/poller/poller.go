// Package poller produces one PollResult per device per cycle by
// driving the SNMP client and the vendor decoder. A poller holds no
// state across calls beyond its cached decoder.
package poller

import (
	"sort"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/snmp"
	"github.com/martinsuchenak/switchwatch/internal/vendor"
)

const defaultMaxRepetitions = 25

// Poller polls one device
type Poller struct {
	device         *model.Device
	client         snmp.Client
	decoder        vendor.Decoder
	maxRepetitions int
}

// New creates a poller for one device over an established SNMP client
func New(device *model.Device, client snmp.Client, decoder vendor.Decoder, maxRepetitions int) *Poller {
	if maxRepetitions <= 0 {
		maxRepetitions = defaultMaxRepetitions
	}
	return &Poller{
		device:         device,
		client:         client,
		decoder:        decoder,
		maxRepetitions: maxRepetitions,
	}
}

// Device returns the device this poller is bound to
func (p *Poller) Device() *model.Device { return p.device }

// Decoder returns the vendor decoder for this device
func (p *Poller) Decoder() vendor.Decoder { return p.decoder }

// Close releases the underlying SNMP connection
func (p *Poller) Close() error { return p.client.Close() }

// Poll runs one full poll cycle for the device. The reachability check
// is fatal for the cycle; every later sub-step degrades to an empty
// result on failure so partial data still flows to change detection.
func (p *Poller) Poll() *model.PollResult {
	start := time.Now()
	result := &model.PollResult{
		DeviceName: p.device.Name,
		DeviceIP:   p.device.IPAddress,
	}

	if !p.client.TestConnection() {
		result.Error = "unreachable"
		result.DurationMs = float64(time.Since(start)) / float64(time.Millisecond)
		log.Warn("Device unreachable", "device", p.device.Name, "ip", p.device.IPAddress)
		return result
	}

	info := p.fetchDeviceInfo()
	ports := p.decoder.ParsePortInfo(p.walk(p.decoder.PortInfoOIDs(), "port table"))
	macTable := p.decoder.ParseMACTable(p.walk(p.decoder.MACTableOIDs(), "mac table"))

	for i := range ports {
		macs := macTable[ports[i].PortNumber]
		switch len(macs) {
		case 0:
		case 1:
			ports[i].MACAddress = macs[0]
			ports[i].AllMACs = macs
		default:
			// Multiple MACs on one port is ambiguous for the primary
			// field; the change detector's mismatch rule handles it.
			ports[i].AllMACs = macs
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].PortNumber < ports[j].PortNumber })

	if len(ports) > 0 {
		info.TotalPorts = len(ports)
	}

	result.Success = true
	result.DeviceInfo = &info
	result.Ports = ports
	result.DurationMs = float64(time.Since(start)) / float64(time.Millisecond)
	log.Debug("Poll complete", "device", p.device.Name,
		"ports", len(ports), "duration_ms", result.DurationMs)
	return result
}

func (p *Poller) fetchDeviceInfo() model.DeviceInfo {
	data, err := p.client.GetMultiple(p.decoder.DeviceInfoOIDs())
	if err != nil {
		log.Warn("Device info query failed", "device", p.device.Name, "error", err)
		data = map[string]any{}
	}
	return p.decoder.ParseDeviceInfo(data)
}

// walk bulk-walks every OID prefix and merges the results into one
// OID->value map. A failed walk degrades to its absence.
func (p *Poller) walk(prefixes []string, what string) map[string]any {
	raw := make(map[string]any)
	for _, prefix := range prefixes {
		values, err := p.client.GetBulk(prefix, p.maxRepetitions)
		if err != nil {
			log.Warn("Bulk walk failed", "device", p.device.Name,
				"what", what, "oid", prefix, "error", err)
			continue
		}
		for _, v := range values {
			raw[v.OID] = v.Value
		}
	}
	return raw
}
