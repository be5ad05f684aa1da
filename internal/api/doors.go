package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/access-control-core/internal/audit"
	"github.com/nerrad567/access-control-core/internal/device"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
)

// maxQueryParamLen bounds IDs and filters taken from the URL.
const maxQueryParamLen = 100

// UnlockRequest is the optional body of POST /devices/{id}/unlock.
type UnlockRequest struct {
	Duration int `json:"duration"`
}

// LockdownRequest is the body of POST /emergency/lockdown.
type LockdownRequest struct {
	Reason string `json:"reason"`
}

// NotificationRequest is the body of POST /notifications.
type NotificationRequest struct {
	Message  string          `json:"message"`
	Severity device.Severity `json:"severity"`
}

// CommandResponse reports a sent door command.
type CommandResponse struct {
	Command device.DoorCommand `json:"command"`
	Queued  bool               `json:"queued"`
}

// handleUnlock sends an unlock command. The body is optional; a missing or
// non-positive duration uses the configured default.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := s.devices.SendUnlock(deviceID, req.Duration)
	s.writeCommandResult(w, r, audit.ActionUnlock, cmd, err)
}

// handleLock sends a lock command.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	cmd, err := s.devices.SendLock(deviceID)
	s.writeCommandResult(w, r, audit.ActionLock, cmd, err)
}

// handleStatusRequest asks a device to report its status.
func (s *Server) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	cmd, err := s.devices.RequestStatus(deviceID)
	s.writeCommandResult(w, r, audit.ActionStatus, cmd, err)
}

// writeCommandResult audits a door command and answers 200 when sent,
// 202 when buffered for replay.
func (s *Server) writeCommandResult(w http.ResponseWriter, r *http.Request, action string, cmd device.DoorCommand, err error) {
	queued := false
	if err != nil {
		if !errors.Is(err, mqtt.ErrPublishFailed) {
			writeBusError(w, err)
			return
		}
		queued = true
	}
	if !queued && !s.mqtt.IsConnected() {
		queued = true
	}

	s.auditLog(r, action, "device", cmd.DeviceID, map[string]any{
		"message_id": cmd.MessageID,
		"parameters": cmd.Parameters,
		"queued":     queued,
	})

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, CommandResponse{Command: cmd, Queued: queued})
}

// handlePendingCommands lists commands still awaiting acknowledgement.
func (s *Server) handlePendingCommands(w http.ResponseWriter, _ *http.Request) {
	pending := s.devices.PendingCommands()
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": pending,
		"count":    len(pending),
	})
}

// handleEmergencyLockdown publishes the lock-all command.
func (s *Server) handleEmergencyLockdown(w http.ResponseWriter, r *http.Request) {
	var req LockdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "manual lockdown"
	}

	lockdown, err := s.devices.EmergencyLockdown(req.Reason)
	queued := errors.Is(err, mqtt.ErrPublishFailed) || (err == nil && !s.mqtt.IsConnected())
	if err != nil && !queued {
		writeBusError(w, err)
		return
	}

	s.auditLog(r, audit.ActionLockdown, "site", "", map[string]any{
		"reason":     req.Reason,
		"message_id": lockdown.MessageID,
		"queued":     queued,
	})

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"lockdown": lockdown, "queued": queued})
}

// handleBroadcastNotification publishes an operator notification to all devices.
func (s *Server) handleBroadcastNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeBadRequest(w, "message is required")
		return
	}

	n, err := s.devices.BroadcastNotification(req.Message, req.Severity)
	queued := errors.Is(err, mqtt.ErrPublishFailed) || (err == nil && !s.mqtt.IsConnected())
	if err != nil && !queued {
		writeBusError(w, err)
		return
	}

	s.auditLog(r, audit.ActionPublish, "topic", mqtt.Topics{}.BroadcastNotification(), map[string]any{
		"severity":   n.Severity,
		"message_id": n.MessageID,
		"queued":     queued,
	})

	status := http.StatusOK
	if queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"notification": n, "queued": queued})
}

// deviceIDParam extracts and validates the {id} URL parameter.
func deviceIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen || strings.ContainsAny(id, "/+#") {
		writeBadRequest(w, "invalid device ID")
		return "", false
	}
	return id, true
}

