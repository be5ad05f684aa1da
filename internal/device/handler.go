package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/access-control-core/internal/router"
)

// Alert types raised by the handler.
const (
	AlertCommandFailed  = "command_failed"
	AlertDeviceHealth   = "device_health"
	AlertSecurityEvent  = "critical_security_event"
	reasonNoValidator   = "validation unavailable"
	reasonValidationErr = "validation error"
)

// AccessValidator decides whether a card may open a door.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, req AccessRequest) (AccessResponse, error)
}

// Notifier receives alerts, typically the WebSocket hub.
type Notifier interface {
	Notify(alert Alert)
}

// MessageRecorder persists derived records (acks, status, events, alerts)
// alongside the raw inbound log.
type MessageRecorder interface {
	RecordMessage(ctx context.Context, topic string, payload []byte) error
}

// Alert is an operator-facing warning derived from device traffic.
type Alert struct {
	Type      string         `json:"alert_type"`
	Topic     string         `json:"topic"`
	DeviceID  string         `json:"device_id"`
	Severity  Severity       `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HandlerOptions wires the Handler's collaborators. Only Service is required.
type HandlerOptions struct {
	Validator AccessValidator
	Notifier  Notifier
	Recorder  MessageRecorder
	History   StatusHistoryRepository
	Telemetry EventTelemetry
	Logger    Logger
}

// EventTelemetry receives one point per device event for time-series
// dashboards. It is satisfied by *influxdb.Client.
type EventTelemetry interface {
	WriteDoorEvent(deviceID, eventType, severity string)
}

// Handler interprets classified device messages.
//
// Each Handle method has the router.HandlerFunc signature; Register wires
// all four into a router.
type Handler struct {
	service   *CommunicationService
	validator AccessValidator
	notifier  Notifier
	recorder  MessageRecorder
	history   StatusHistoryRepository
	telemetry EventTelemetry
	logger    Logger
}

// NewHandler creates a handler publishing through service.
func NewHandler(service *CommunicationService, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Handler{
		service:   service,
		validator: opts.Validator,
		notifier:  opts.Notifier,
		recorder:  opts.Recorder,
		history:   opts.History,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
}

// Register installs the handler's routines on r.
func (h *Handler) Register(r *router.Router) {
	r.Register(router.CategoryAccessRequest, h.HandleAccessRequest)
	r.Register(router.CategoryCommandAck, h.HandleCommandAck)
	r.Register(router.CategoryDeviceStatus, h.HandleStatus)
	r.Register(router.CategoryDeviceEvent, h.HandleEvent)
}

// HandleAccessRequest validates a card presentation and publishes the decision.
//
// Without a validator, or when validation fails, the reader is sent a denial
// so it never waits on a missing response.
func (h *Handler) HandleAccessRequest(ctx context.Context, msg router.Message) error {
	req, err := ParseAccessRequest(msg.Topic, msg.Payload)
	if err != nil {
		return fmt.Errorf("parsing access request: %w", err)
	}
	h.logger.Info("processing access request", "device_id", req.DeviceID, "door_id", req.DoorID)

	var resp AccessResponse
	switch {
	case h.validator == nil:
		resp = DeniedResponse(req.MessageID, reasonNoValidator, false)
	default:
		resp, err = h.validator.ValidateAccess(ctx, req)
		if err != nil {
			h.logger.Error("access validation failed", "device_id", req.DeviceID, "error", err)
			resp = DeniedResponse(req.MessageID, reasonValidationErr, false)
		}
	}
	if resp.MessageID == "" {
		resp.MessageID = req.MessageID
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}

	if err := h.service.PublishAccessResponse(req.DeviceID, resp); err != nil && !isBuffered(err) {
		return err
	}
	h.logger.Info("access decision", "device_id", req.DeviceID, "granted", resp.AccessGranted, "reason", resp.Reason)
	return nil
}

// HandleCommandAck clears pending tracking and alerts on failed commands.
func (h *Handler) HandleCommandAck(ctx context.Context, msg router.Message) error {
	ack, err := ParseCommandAck(msg.Topic, msg.Payload)
	if err != nil {
		return fmt.Errorf("parsing command ack: %w", err)
	}

	if _, ok := h.service.AcknowledgeCommand(ack); ok {
		h.logger.Info("command acknowledged", "message_id", ack.MessageID, "device_id", ack.DeviceID, "status", ack.Status)
	} else {
		h.logger.Debug("ack for unknown command", "message_id", ack.MessageID, "device_id", ack.DeviceID)
	}

	h.record(ctx, fmt.Sprintf("audit/commands/%s/ack", ack.DeviceID), ack)

	if !ack.IsSuccessful() {
		h.logger.Warn("command failed on device", "message_id", ack.MessageID, "device_id", ack.DeviceID, "error", ack.ErrorMessage)
		h.alert(ctx, Alert{
			Type:     AlertCommandFailed,
			Topic:    fmt.Sprintf("alerts/commands/%s/failed", ack.DeviceID),
			DeviceID: ack.DeviceID,
			Severity: SeverityWarning,
			Data: map[string]any{
				"message_id": ack.MessageID,
				"status":     string(ack.Status),
				"error":      ack.ErrorMessage,
			},
		})
	}
	return nil
}

// HandleStatus stores the report and alerts on unhealthy devices.
func (h *Handler) HandleStatus(ctx context.Context, msg router.Message) error {
	status, err := ParseStatus(msg.Topic, msg.Payload)
	if err != nil {
		return fmt.Errorf("parsing device status: %w", err)
	}
	h.logger.Debug("device status", "device_id", status.DeviceID, "online", status.Online, "door_state", status.DoorState)

	if h.history != nil {
		if err := h.history.RecordStatus(ctx, status, StatusSourceReport); err != nil {
			h.logger.Warn("failed to record status history", "device_id", status.DeviceID, "error", err)
		}
	}
	h.record(ctx, fmt.Sprintf("monitoring/devices/%s/status", status.DeviceID), status)

	if !status.IsHealthy() {
		h.logger.Warn("device health alert", "device_id", status.DeviceID, "error", status.ErrorMessage)
		h.alert(ctx, Alert{
			Type:     AlertDeviceHealth,
			Topic:    fmt.Sprintf("alerts/devices/%s/health", status.DeviceID),
			DeviceID: status.DeviceID,
			Severity: SeverityWarning,
			Data: map[string]any{
				"online":          status.Online,
				"battery_level":   status.BatteryLevel,
				"signal_strength": status.SignalStrength,
				"error_message":   status.ErrorMessage,
			},
		})
	}
	return nil
}

// HandleEvent records the event and escalates error and critical severities.
// Forced doors and tampering are also broadcast to every device.
func (h *Handler) HandleEvent(ctx context.Context, msg router.Message) error {
	event, err := ParseEvent(msg.Topic, msg.Payload)
	if err != nil {
		return fmt.Errorf("parsing device event: %w", err)
	}
	h.logger.Info("device event", "device_id", event.DeviceID, "event_type", event.EventType, "severity", event.Severity)

	h.record(ctx, fmt.Sprintf("audit/events/%s/%s", event.DeviceID, event.EventType), event)
	if h.telemetry != nil {
		h.telemetry.WriteDoorEvent(event.DeviceID, event.EventType, string(event.Severity))
	}

	if !event.IsCritical() {
		return nil
	}

	h.logger.Error("critical device event", "device_id", event.DeviceID, "event_type", event.EventType)
	h.alert(ctx, Alert{
		Type:     AlertSecurityEvent,
		Topic:    fmt.Sprintf("alerts/security/%s/critical", event.DeviceID),
		DeviceID: event.DeviceID,
		Severity: event.Severity,
		Data: map[string]any{
			"event_type": event.EventType,
			"details":    event.Details,
		},
		Timestamp: event.Timestamp,
	})

	var text string
	switch event.EventType {
	case EventDoorForced:
		text = "SECURITY ALERT: Door forced open on device " + event.DeviceID
	case EventTamperAlert:
		text = "SECURITY ALERT: Device tamper detected on " + event.DeviceID
	default:
		return nil
	}
	if _, err := h.service.BroadcastNotification(text, SeverityCritical); err != nil && !isBuffered(err) {
		return err
	}
	return nil
}

// record persists a derived record; failures are logged only.
func (h *Handler) record(ctx context.Context, topic string, v any) {
	if h.recorder == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to marshal record", "topic", topic, "error", err)
		return
	}
	if err := h.recorder.RecordMessage(ctx, topic, payload); err != nil {
		h.logger.Warn("failed to record message", "topic", topic, "error", err)
	}
}

// alert records and forwards an alert.
func (h *Handler) alert(ctx context.Context, a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	h.record(ctx, a.Topic, a)
	if h.notifier != nil {
		h.notifier.Notify(a)
	}
}
