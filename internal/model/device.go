package model

import (
	"time"
)

// DeviceStatus is the reachability state of a polled device
type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "ONLINE"
	DeviceUnreachable DeviceStatus = "UNREACHABLE"
	DeviceError       DeviceStatus = "ERROR"
	DeviceUnknown     DeviceStatus = "UNKNOWN"
)

// Device represents a monitored switch with its polling state
type Device struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	IPAddress          string       `json:"ip_address"`
	Vendor             string       `json:"vendor"`
	Model              string       `json:"model"`
	Status             DeviceStatus `json:"status"`
	PollFailures       int          `json:"poll_failures"`
	SystemDescription  string       `json:"system_description,omitempty"`
	SystemUptime       int64        `json:"system_uptime,omitempty"`
	TotalPorts         int          `json:"total_ports,omitempty"`
	LastPollTime       *time.Time   `json:"last_poll_time,omitempty"`
	LastSuccessfulPoll *time.Time   `json:"last_successful_poll,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// DeviceInfo is the decoded system-level information from one poll
type DeviceInfo struct {
	SystemDescription string `json:"system_description"`
	SystemName        string `json:"system_name"`
	SystemUptime      int64  `json:"system_uptime"`
	TotalPorts        int    `json:"total_ports"`
}
