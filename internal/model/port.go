package model

import (
	"time"
)

// PortInfo is one port's decoded state from a single poll cycle.
// It is produced fresh each cycle and not retained afterwards.
type PortInfo struct {
	PortNumber  int      `json:"port_number"`
	PortName    string   `json:"port_name"`
	PortAlias   string   `json:"port_alias"`
	AdminStatus string   `json:"admin_status"`
	OperStatus  string   `json:"oper_status"`
	PortType    string   `json:"port_type"`
	PortSpeed   int64    `json:"port_speed"`
	PortMTU     int      `json:"port_mtu"`
	VLANID      int      `json:"vlan_id,omitempty"`
	MACAddress  string   `json:"mac_address,omitempty"`
	AllMACs     []string `json:"all_macs,omitempty"`
}

// PortSnapshot is the persisted comparison baseline for one device+port.
// It always reflects the state as of the previous successful comparison.
type PortSnapshot struct {
	DeviceName  string    `json:"device_name"`
	PortNumber  int       `json:"port_number"`
	PortName    string    `json:"port_name"`
	PortAlias   string    `json:"port_alias"`
	AdminStatus string    `json:"admin_status"`
	OperStatus  string    `json:"oper_status"`
	VLANID      int       `json:"vlan_id,omitempty"`
	MACAddress  string    `json:"mac_address,omitempty"`
	AllMACs     []string  `json:"all_macs,omitempty"`
	TakenAt     time.Time `json:"taken_at"`
}

// MACLocation tracks where a MAC address currently and previously lives.
// One row per MAC, globally unique.
type MACLocation struct {
	MACAddress     string     `json:"mac_address"`
	CurrentDevice  string     `json:"current_device,omitempty"`
	CurrentPort    int        `json:"current_port,omitempty"`
	CurrentVLAN    int        `json:"current_vlan,omitempty"`
	PreviousDevice string     `json:"previous_device,omitempty"`
	PreviousPort   int        `json:"previous_port,omitempty"`
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	LastMoved      *time.Time `json:"last_moved,omitempty"`
	MoveCount      int        `json:"move_count"`
}

// WhitelistEntry marks a MAC as expected, optionally narrowed to one
// device and port. Empty device or zero port matches anywhere.
type WhitelistEntry struct {
	Device string `json:"device,omitempty"`
	Port   int    `json:"port,omitempty"`
	MAC    string `json:"mac"`
}

// ChangeType classifies a detected port change
type ChangeType string

const (
	ChangeMACAdded           ChangeType = "mac_added"
	ChangeMACRemoved         ChangeType = "mac_removed"
	ChangeMACMoved           ChangeType = "mac_moved"
	ChangeVLANChanged        ChangeType = "vlan_changed"
	ChangeDescriptionChanged ChangeType = "description_changed"
	ChangeStatusChanged      ChangeType = "status_changed"
)

// ChangeRecord is an append-only record of one detected change
type ChangeRecord struct {
	ID         string     `json:"id"`
	DeviceName string     `json:"device_name"`
	PortNumber int        `json:"port_number"`
	Type       ChangeType `json:"type"`
	OldValue   string     `json:"old_value,omitempty"`
	NewValue   string     `json:"new_value,omitempty"`
	OldMAC     string     `json:"old_mac,omitempty"`
	NewMAC     string     `json:"new_mac,omitempty"`
	FromPort   int        `json:"from_port,omitempty"`
	ToPort     int        `json:"to_port,omitempty"`
	OldVLANID  int        `json:"old_vlan_id,omitempty"`
	NewVLANID  int        `json:"new_vlan_id,omitempty"`
	Details    string     `json:"details"`
	AlarmID    string     `json:"alarm_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PollResult is the per-device output of one poll cycle
type PollResult struct {
	DeviceName string      `json:"device_name"`
	DeviceIP   string      `json:"device_ip"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
	DurationMs float64     `json:"duration_ms"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
	Ports      []PortInfo  `json:"ports"`
}
