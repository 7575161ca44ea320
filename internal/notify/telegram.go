package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel sends alarm messages through a Telegram bot
type TelegramChannel struct {
	botToken string
	chatID   string
	notifyOn []string
	baseURL  string
	client   *http.Client
}

// NewTelegramChannel creates a Telegram channel from config
func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	return &TelegramChannel{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		notifyOn: cfg.NotifyOn,
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (tc *TelegramChannel) Name() string {
	return "telegram"
}

func (tc *TelegramChannel) SendAlarm(alarm *model.Alarm) bool {
	if !wantsType(tc.notifyOn, alarm.Type) {
		return false
	}

	text := fmt.Sprintf("⚠️ [%s] %s\nDevice: %s\n%s",
		alarm.Severity, alarm.Title, alarm.DeviceName, alarm.Message)
	if alarm.OccurrenceCount > 1 {
		text += fmt.Sprintf("\nOccurrences: %d", alarm.OccurrenceCount)
	}
	return tc.send(text)
}

func (tc *TelegramChannel) SendPortDown(deviceName, deviceIP string, port int, portName string) bool {
	if !wantsType(tc.notifyOn, model.AlarmTypePortDown) {
		return false
	}
	return tc.send(fmt.Sprintf("🔴 Port down\nDevice: %s (%s)\nPort %d (%s)",
		deviceName, deviceIP, port, portName))
}

func (tc *TelegramChannel) SendPortUp(deviceName, deviceIP string, port int, portName string) bool {
	if !wantsType(tc.notifyOn, model.AlarmTypePortUp) {
		return false
	}
	return tc.send(fmt.Sprintf("🟢 Port up\nDevice: %s (%s)\nPort %d (%s)",
		deviceName, deviceIP, port, portName))
}

func (tc *TelegramChannel) SendDeviceUnreachable(deviceName, deviceIP string, failures int) bool {
	if !wantsType(tc.notifyOn, model.AlarmTypeDeviceUnreachable) {
		return false
	}
	return tc.send(fmt.Sprintf("🚨 Device unreachable\nDevice: %s (%s)\nConsecutive failures: %d",
		deviceName, deviceIP, failures))
}

func (tc *TelegramChannel) send(text string) bool {
	payload, err := json.Marshal(map[string]string{
		"chat_id": tc.chatID,
		"text":    text,
	})
	if err != nil {
		log.Error("Encoding telegram message failed", "error", err)
		return false
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", tc.baseURL, tc.botToken)
	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Warn("Telegram send failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Telegram send rejected", "status", resp.StatusCode)
		return false
	}
	return true
}
