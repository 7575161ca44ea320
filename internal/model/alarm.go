package model

import (
	"strings"
	"time"
)

// AlarmSeverity is the severity of an alarm
type AlarmSeverity string

const (
	SeverityCritical AlarmSeverity = "CRITICAL"
	SeverityHigh     AlarmSeverity = "HIGH"
	SeverityMedium   AlarmSeverity = "MEDIUM"
	SeverityLow      AlarmSeverity = "LOW"
	SeverityInfo     AlarmSeverity = "INFO"
)

// ParseSeverity normalizes a severity string. Unrecognized input maps to MEDIUM.
func ParseSeverity(s string) AlarmSeverity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH":
		return SeverityHigh
	case "MEDIUM":
		return SeverityMedium
	case "LOW":
		return SeverityLow
	case "INFO":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

// AlarmStatus is the lifecycle state of an alarm
type AlarmStatus string

const (
	AlarmActive       AlarmStatus = "ACTIVE"
	AlarmAcknowledged AlarmStatus = "ACKNOWLEDGED"
	AlarmResolved     AlarmStatus = "RESOLVED"
)

// Alarm types used by the detection rules and the alarm manager entry points.
const (
	AlarmTypeMACMoved          = "mac_moved"
	AlarmTypeVLANChanged       = "vlan_changed"
	AlarmTypeDescChanged       = "description_changed"
	AlarmTypePortDown          = "port_down"
	AlarmTypePortUp            = "port_up"
	AlarmTypeDeviceUnreachable = "device_unreachable"
)

// Alarm is a deduplicated alarm row. At most one ACTIVE alarm exists per
// fingerprint at any time.
type Alarm struct {
	ID               string        `json:"id"`
	DeviceName       string        `json:"device_name"`
	Type             string        `json:"type"`
	Severity         AlarmSeverity `json:"severity"`
	Status           AlarmStatus   `json:"status"`
	Title            string        `json:"title"`
	Message          string        `json:"message"`
	Fingerprint      string        `json:"fingerprint"`
	PortNumber       int           `json:"port_number,omitempty"`
	MACAddress       string        `json:"mac_address,omitempty"`
	FromPort         int           `json:"from_port,omitempty"`
	ToPort           int           `json:"to_port,omitempty"`
	OldVLANID        int           `json:"old_vlan_id,omitempty"`
	NewVLANID        int           `json:"new_vlan_id,omitempty"`
	OldValue         string        `json:"old_value,omitempty"`
	NewValue         string        `json:"new_value,omitempty"`
	OccurrenceCount  int           `json:"occurrence_count"`
	NotificationSent bool          `json:"notification_sent"`
	FirstOccurrence  time.Time     `json:"first_occurrence"`
	LastOccurrence   time.Time     `json:"last_occurrence"`
	ResolvedAt       *time.Time    `json:"resolved_at,omitempty"`
}

// AlarmHistory records one status transition of an alarm
type AlarmHistory struct {
	ID        string      `json:"id"`
	AlarmID   string      `json:"alarm_id"`
	OldStatus AlarmStatus `json:"old_status,omitempty"`
	NewStatus AlarmStatus `json:"new_status"`
	Reason    string      `json:"reason"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
