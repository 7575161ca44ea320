// Package notify delivers alarm notifications to external channels.
// Delivery is best effort: a failed send is logged and reported as
// false, never escalated to the caller.
package notify

import (
	"github.com/martinsuchenak/switchwatch/internal/model"
)

// Channel is one notification target
type Channel interface {
	Name() string
	SendAlarm(alarm *model.Alarm) bool
	SendPortDown(deviceName, deviceIP string, port int, portName string) bool
	SendPortUp(deviceName, deviceIP string, port int, portName string) bool
	SendDeviceUnreachable(deviceName, deviceIP string, failures int) bool
}

// wantsType reports whether a channel configured with notifyOn should
// deliver the given alarm type. An empty list means all types.
func wantsType(notifyOn []string, alarmType string) bool {
	if len(notifyOn) == 0 {
		return true
	}
	for _, t := range notifyOn {
		if t == alarmType {
			return true
		}
	}
	return false
}
