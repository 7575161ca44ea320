// Package api exposes the monitoring state over a small JSON HTTP API:
// devices, port snapshots, alarms, change history and MAC lookups.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/martinsuchenak/switchwatch/internal/alarm"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/martinsuchenak/switchwatch/internal/model"
	"github.com/martinsuchenak/switchwatch/internal/storage"
)

// Handler holds dependencies for API handlers
type Handler struct {
	storage storage.Storage
	alarms  *alarm.Manager
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, alarms *alarm.Manager) *Handler {
	return &Handler{storage: store, alarms: alarms}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)

	mux.HandleFunc("GET /api/devices", h.ListDevices)
	mux.HandleFunc("GET /api/devices/{name}", h.GetDevice)
	mux.HandleFunc("GET /api/devices/{name}/ports", h.ListDevicePorts)
	mux.HandleFunc("GET /api/devices/{name}/changes", h.ListDeviceChanges)

	mux.HandleFunc("GET /api/alarms", h.ListAlarms)
	mux.HandleFunc("GET /api/alarms/{id}", h.GetAlarm)
	mux.HandleFunc("GET /api/alarms/{id}/history", h.ListAlarmHistory)
	mux.HandleFunc("POST /api/alarms/{id}/ack", h.AcknowledgeAlarm)
	mux.HandleFunc("POST /api/alarms/{id}/resolve", h.ResolveAlarm)

	mux.HandleFunc("GET /api/changes", h.ListChanges)
	mux.HandleFunc("GET /api/macs/{mac}", h.GetMACLocation)
}

// Health returns service liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListDevices returns all monitored devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.storage.ListDevices()
	if err != nil {
		internalError(w, "listing devices", err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// GetDevice returns a single device by name
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.storage.GetDevice(r.PathValue("name"))
	if errors.Is(err, storage.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		internalError(w, "getting device", err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// ListDevicePorts returns the latest port snapshots for a device,
// ordered by port number
func (h *Handler) ListDevicePorts(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.storage.GetDevice(name); errors.Is(err, storage.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	} else if err != nil {
		internalError(w, "getting device", err)
		return
	}

	snapshots, err := h.storage.GetPortSnapshots(name)
	if err != nil {
		internalError(w, "listing port snapshots", err)
		return
	}

	ports := make([]model.PortSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		ports = append(ports, snap)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].PortNumber < ports[j].PortNumber })
	writeJSON(w, http.StatusOK, ports)
}

// ListDeviceChanges returns change records for one device
func (h *Handler) ListDeviceChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	changes, err := h.storage.ListChanges(r.PathValue("name"), limit)
	if err != nil {
		internalError(w, "listing changes", err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// ListChanges returns recent change records, optionally filtered by
// device via ?device=
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	changes, err := h.storage.ListChanges(r.URL.Query().Get("device"), limit)
	if err != nil {
		internalError(w, "listing changes", err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// ListAlarms returns alarms, filtered by ?status= and ?device=.
// Without a status filter only non-resolved alarms are returned.
func (h *Handler) ListAlarms(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	statusParam := strings.ToUpper(r.URL.Query().Get("status"))

	var alarms []model.Alarm
	var err error
	switch statusParam {
	case "":
		active, aerr := h.storage.ListAlarms(model.AlarmActive, device)
		if aerr != nil {
			internalError(w, "listing alarms", aerr)
			return
		}
		acked, aerr := h.storage.ListAlarms(model.AlarmAcknowledged, device)
		if aerr != nil {
			internalError(w, "listing alarms", aerr)
			return
		}
		alarms = append(active, acked...)
	case string(model.AlarmActive), string(model.AlarmAcknowledged), string(model.AlarmResolved):
		alarms, err = h.storage.ListAlarms(model.AlarmStatus(statusParam), device)
		if err != nil {
			internalError(w, "listing alarms", err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	sort.Slice(alarms, func(i, j int) bool {
		return alarms[i].LastOccurrence.After(alarms[j].LastOccurrence)
	})
	writeJSON(w, http.StatusOK, alarms)
}

// GetAlarm returns a single alarm by ID
func (h *Handler) GetAlarm(w http.ResponseWriter, r *http.Request) {
	target, err := h.storage.GetAlarm(r.PathValue("id"))
	if errors.Is(err, storage.ErrAlarmNotFound) {
		writeError(w, http.StatusNotFound, "alarm not found")
		return
	}
	if err != nil {
		internalError(w, "getting alarm", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// ListAlarmHistory returns the status transition history of an alarm
func (h *Handler) ListAlarmHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.storage.GetAlarm(id); errors.Is(err, storage.ErrAlarmNotFound) {
		writeError(w, http.StatusNotFound, "alarm not found")
		return
	} else if err != nil {
		internalError(w, "getting alarm", err)
		return
	}

	history, err := h.storage.ListAlarmHistory(id)
	if err != nil {
		internalError(w, "listing alarm history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// AcknowledgeAlarm moves an active alarm to ACKNOWLEDGED
func (h *Handler) AcknowledgeAlarm(w http.ResponseWriter, r *http.Request) {
	target, err := h.storage.GetAlarm(r.PathValue("id"))
	if errors.Is(err, storage.ErrAlarmNotFound) {
		writeError(w, http.StatusNotFound, "alarm not found")
		return
	}
	if err != nil {
		internalError(w, "getting alarm", err)
		return
	}
	if target.Status != model.AlarmActive {
		writeError(w, http.StatusConflict, "alarm is not active")
		return
	}

	oldStatus := target.Status
	target.Status = model.AlarmAcknowledged
	if err := h.storage.UpdateAlarm(target); err != nil {
		internalError(w, "acknowledging alarm", err)
		return
	}
	if err := h.storage.AddAlarmHistory(&model.AlarmHistory{
		AlarmID:   target.ID,
		OldStatus: oldStatus,
		NewStatus: model.AlarmAcknowledged,
		Reason:    "acknowledged via API",
		Timestamp: time.Now(),
	}); err != nil {
		internalError(w, "recording alarm history", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// ResolveAlarm marks an alarm as resolved
func (h *Handler) ResolveAlarm(w http.ResponseWriter, r *http.Request) {
	target, err := h.storage.GetAlarm(r.PathValue("id"))
	if errors.Is(err, storage.ErrAlarmNotFound) {
		writeError(w, http.StatusNotFound, "alarm not found")
		return
	}
	if err != nil {
		internalError(w, "getting alarm", err)
		return
	}
	if target.Status == model.AlarmResolved {
		writeError(w, http.StatusConflict, "alarm already resolved")
		return
	}

	if err := h.alarms.ResolveAlarm(target, "resolved via API"); err != nil {
		internalError(w, "resolving alarm", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// GetMACLocation returns the tracked location of a MAC address
func (h *Handler) GetMACLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.storage.GetMACLocation(r.PathValue("mac"))
	if errors.Is(err, storage.ErrMACNotFound) {
		writeError(w, http.StatusNotFound, "mac address not found")
		return
	}
	if err != nil {
		internalError(w, "getting mac location", err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, action string, err error) {
	log.Error("API request failed", "action", action, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
