package alarm

import (
	"strconv"
	"strings"
)

// fingerprintSep joins the fingerprint components. Stable across
// releases: changing it would re-open every active alarm.
const fingerprintSep = "|"

// Fingerprint builds the dedup key for one alarm condition. The same
// condition always yields the same key; any differing component yields
// a different key. Port 0 and empty strings encode as empty components
// so optional parts still occupy their position.
func Fingerprint(device string, port int, mac, fromPort, toPort, alarmType string) string {
	portStr := ""
	if port > 0 {
		portStr = strconv.Itoa(port)
	}
	return strings.Join([]string{
		device,
		portStr,
		strings.ToUpper(mac),
		fromPort,
		toPort,
		alarmType,
	}, fingerprintSep)
}

// DebounceKey scopes notification rate limiting to one device and
// alarm type
func DebounceKey(device, alarmType string) string {
	return device + "_" + alarmType
}

// PortDebounceKey scopes notification rate limiting to one port
func PortDebounceKey(device string, port int, alarmType string) string {
	return device + "_port_" + strconv.Itoa(port) + "_" + alarmType
}
