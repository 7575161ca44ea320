package alarm

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestFingerprintFixed(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"all components",
			Fingerprint("sw-core-01", 5, "aa:bb:cc:dd:ee:ff", "sw-core-01:3", "sw-access-02:7", "mac_moved"),
			"sw-core-01|5|AA:BB:CC:DD:EE:FF|sw-core-01:3|sw-access-02:7|mac_moved",
		},
		{
			"optional parts empty",
			Fingerprint("sw-core-01", 0, "", "", "", "device_unreachable"),
			"sw-core-01|||||device_unreachable",
		},
		{
			"port only",
			Fingerprint("sw-core-01", 12, "", "", "", "vlan_changed"),
			"sw-core-01|12||||vlan_changed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	// Component values never contain the delimiter in practice; the
	// generator reflects that so distinct inputs map to distinct keys.
	component := rapid.StringMatching(`[a-zA-Z0-9:._-]{0,16}`)

	rapid.Check(t, func(t *rapid.T) {
		device := component.Draw(t, "device")
		port := rapid.IntRange(0, 1024).Draw(t, "port")
		mac := component.Draw(t, "mac")
		from := component.Draw(t, "from")
		to := component.Draw(t, "to")
		alarmType := component.Draw(t, "type")

		first := Fingerprint(device, port, mac, from, to, alarmType)
		second := Fingerprint(device, port, mac, from, to, alarmType)
		if first != second {
			t.Fatalf("same inputs produced %q and %q", first, second)
		}

		// A differing type always yields a different fingerprint
		other := Fingerprint(device, port, mac, from, to, alarmType+"x")
		if other == first {
			t.Fatalf("distinct inputs collided on %q", first)
		}

		// Case-insensitive MAC equality collapses to one fingerprint
		upper := Fingerprint(device, port, strings.ToUpper(mac), from, to, alarmType)
		if upper != first {
			t.Fatalf("MAC case changed the fingerprint: %q vs %q", upper, first)
		}
	})
}

func TestDebounceKeys(t *testing.T) {
	if got := DebounceKey("sw-core-01", "device_unreachable"); got != "sw-core-01_device_unreachable" {
		t.Errorf("DebounceKey() = %q", got)
	}
	if got := PortDebounceKey("sw-core-01", 5, "port_down"); got != "sw-core-01_port_5_port_down" {
		t.Errorf("PortDebounceKey() = %q", got)
	}
}
