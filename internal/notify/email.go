package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
)

// EmailChannel sends alarm messages over SMTP
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	notifyOn []string

	// sendMail is swapped out in tests
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP channel from config
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		notifyOn: cfg.NotifyOn,
		sendMail: smtp.SendMail,
	}
}

func (ec *EmailChannel) Name() string {
	return "email"
}

func (ec *EmailChannel) SendAlarm(alarm *model.Alarm) bool {
	if !wantsType(ec.notifyOn, alarm.Type) {
		return false
	}

	subject := fmt.Sprintf("[%s] %s on %s", alarm.Severity, alarm.Title, alarm.DeviceName)
	body := alarm.Message
	if alarm.OccurrenceCount > 1 {
		body += fmt.Sprintf("\n\nOccurrences: %d (first %s)",
			alarm.OccurrenceCount, alarm.FirstOccurrence.Format("2006-01-02 15:04:05"))
	}
	return ec.send(subject, body)
}

func (ec *EmailChannel) SendPortDown(deviceName, deviceIP string, port int, portName string) bool {
	if !wantsType(ec.notifyOn, model.AlarmTypePortDown) {
		return false
	}
	return ec.send(
		fmt.Sprintf("Port down on %s", deviceName),
		fmt.Sprintf("Port %d (%s) on %s (%s) went down.", port, portName, deviceName, deviceIP))
}

func (ec *EmailChannel) SendPortUp(deviceName, deviceIP string, port int, portName string) bool {
	if !wantsType(ec.notifyOn, model.AlarmTypePortUp) {
		return false
	}
	return ec.send(
		fmt.Sprintf("Port up on %s", deviceName),
		fmt.Sprintf("Port %d (%s) on %s (%s) came back up.", port, portName, deviceName, deviceIP))
}

func (ec *EmailChannel) SendDeviceUnreachable(deviceName, deviceIP string, failures int) bool {
	if !wantsType(ec.notifyOn, model.AlarmTypeDeviceUnreachable) {
		return false
	}
	return ec.send(
		fmt.Sprintf("Device unreachable: %s", deviceName),
		fmt.Sprintf("%s (%s) has failed %d consecutive polls.", deviceName, deviceIP, failures))
}

func (ec *EmailChannel) send(subject, body string) bool {
	msg := strings.Join([]string{
		"From: " + ec.from,
		"To: " + strings.Join(ec.to, ", "),
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if ec.username != "" {
		auth = smtp.PlainAuth("", ec.username, ec.password, ec.host)
	}

	addr := fmt.Sprintf("%s:%d", ec.host, ec.port)
	if err := ec.sendMail(addr, auth, ec.from, ec.to, []byte(msg)); err != nil {
		log.Warn("Email send failed", "host", ec.host, "error", err)
		return false
	}
	return true
}
