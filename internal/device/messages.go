package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultUnlockDuration is the door release time in seconds when none is given.
const DefaultUnlockDuration = 5

// DefaultCommandTimeout is the ack deadline in seconds for door commands.
const DefaultCommandTimeout = 30

// lowBatteryThreshold is the battery percentage below which a device is unhealthy.
const lowBatteryThreshold = 20

// CommandType identifies a command sent to a door device.
type CommandType string

// Command types.
const (
	CommandUnlock       CommandType = "unlock"
	CommandLock         CommandType = "lock"
	CommandStatus       CommandType = "status"
	CommandReboot       CommandType = "reboot"
	CommandUpdateConfig CommandType = "update_config"
)

// Valid reports whether the command type is known.
func (c CommandType) Valid() bool {
	switch c {
	case CommandUnlock, CommandLock, CommandStatus, CommandReboot, CommandUpdateConfig:
		return true
	}
	return false
}

// DoorAction tells a reader what to do after an access decision.
type DoorAction string

// Door actions.
const (
	DoorActionUnlock      DoorAction = "unlock"
	DoorActionDeny        DoorAction = "deny"
	DoorActionRequirePIN  DoorAction = "require_pin"
	DoorActionAlreadyOpen DoorAction = "already_open"
)

// Severity grades device events and notifications.
type Severity string

// Severities, lowest first.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event types with dedicated handling.
const (
	EventDoorForced  = "door_forced"
	EventTamperAlert = "tamper_alert"
	EventGeneric     = "generic"
)

// AckStatus is the outcome a device reports for a command.
type AckStatus string

// Acknowledgment statuses.
const (
	AckSuccess AckStatus = "success"
	AckFailed  AckStatus = "failed"
	AckTimeout AckStatus = "timeout"
	AckInvalid AckStatus = "invalid"
)

// AccessRequest is a card presentation reported by a reader.
type AccessRequest struct {
	CardID       string         `json:"card_id"`
	DoorID       string         `json:"door_id"`
	DeviceID     string         `json:"device_id"`
	PIN          string         `json:"pin,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	MessageID    string         `json:"message_id"`
	LocationData map[string]any `json:"location_data,omitempty"`
}

// AccessResponse is the decision sent back to a reader.
type AccessResponse struct {
	AccessGranted bool       `json:"access_granted"`
	DoorAction    DoorAction `json:"door_action"`
	Reason        string     `json:"reason"`
	Duration      int        `json:"duration"`
	UserName      string     `json:"user_name,omitempty"`
	CardType      string     `json:"card_type,omitempty"`
	RequiresPIN   bool       `json:"requires_pin"`
	MessageID     string     `json:"message_id"`
	Timestamp     time.Time  `json:"timestamp"`
}

// GrantedResponse builds an unlock decision. A non-positive duration
// selects DefaultUnlockDuration.
func GrantedResponse(messageID, reason, userName, cardType string, duration int) AccessResponse {
	if duration <= 0 {
		duration = DefaultUnlockDuration
	}
	return AccessResponse{
		AccessGranted: true,
		DoorAction:    DoorActionUnlock,
		Reason:        reason,
		Duration:      duration,
		UserName:      userName,
		CardType:      cardType,
		MessageID:     messageID,
		Timestamp:     time.Now().UTC(),
	}
}

// DeniedResponse builds a refusal. When requiresPIN is set the reader is
// told to prompt for a PIN instead of simply denying.
func DeniedResponse(messageID, reason string, requiresPIN bool) AccessResponse {
	action := DoorActionDeny
	if requiresPIN {
		action = DoorActionRequirePIN
	}
	return AccessResponse{
		DoorAction:  action,
		Reason:      reason,
		Duration:    0,
		RequiresPIN: requiresPIN,
		MessageID:   messageID,
		Timestamp:   time.Now().UTC(),
	}
}

// DoorCommand is a command published to access/commands/{device_id}.
type DoorCommand struct {
	Command     CommandType    `json:"command"`
	DeviceID    string         `json:"device_id"`
	Parameters  map[string]any `json:"parameters"`
	MessageID   string         `json:"message_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Timeout     int            `json:"timeout"`
	RequiresAck bool           `json:"requires_ack"`
}

// NewDoorCommand creates an acknowledged command with a fresh message ID.
func NewDoorCommand(command CommandType, deviceID string, params map[string]any) DoorCommand {
	if params == nil {
		params = map[string]any{}
	}
	return DoorCommand{
		Command:     command,
		DeviceID:    deviceID,
		Parameters:  params,
		MessageID:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Timeout:     DefaultCommandTimeout,
		RequiresAck: true,
	}
}

// UnlockCommand releases the door for duration seconds.
func UnlockCommand(deviceID string, duration int) DoorCommand {
	if duration <= 0 {
		duration = DefaultUnlockDuration
	}
	return NewDoorCommand(CommandUnlock, deviceID, map[string]any{"duration": duration})
}

// LockCommand secures the door.
func LockCommand(deviceID string) DoorCommand {
	return NewDoorCommand(CommandLock, deviceID, nil)
}

// StatusRequestCommand asks the device to publish its status.
func StatusRequestCommand(deviceID string) DoorCommand {
	return NewDoorCommand(CommandStatus, deviceID, nil)
}

// CommandAck is a device's acknowledgment of a DoorCommand.
type CommandAck struct {
	MessageID     string         `json:"message_id"`
	DeviceID      string         `json:"device_id"`
	Status        AckStatus      `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ExecutionTime *float64       `json:"execution_time,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// IsSuccessful reports whether the device executed the command.
func (a CommandAck) IsSuccessful() bool {
	return a.Status == AckSuccess
}

// Status is a device health report.
type Status struct {
	DeviceID        string     `json:"device_id"`
	Online          bool       `json:"online"`
	DoorState       string     `json:"door_state"`
	BatteryLevel    *int       `json:"battery_level,omitempty"`
	SignalStrength  *int       `json:"signal_strength,omitempty"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	FirmwareVersion string     `json:"firmware_version,omitempty"`
}

// IsHealthy reports online, battery at or above 20% when known, and no error.
func (s Status) IsHealthy() bool {
	if !s.Online || s.ErrorMessage != "" {
		return false
	}
	if s.BatteryLevel != nil && *s.BatteryLevel < lowBatteryThreshold {
		return false
	}
	return true
}

// Event is an asynchronous occurrence reported by a device.
type Event struct {
	DeviceID  string         `json:"device_id"`
	EventType string         `json:"event_type"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details"`
	MessageID string         `json:"message_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsCritical reports whether the event needs an alert.
func (e Event) IsCritical() bool {
	return e.Severity == SeverityCritical || e.Severity == SeverityError
}

// =============================================================================
// Parsing
// =============================================================================

// wireAccessRequest mirrors the reader payload; pointers detect absent fields.
type wireAccessRequest struct {
	CardID       *string        `json:"card_id"`
	DoorID       *string        `json:"door_id"`
	PIN          string         `json:"pin"`
	Timestamp    string         `json:"timestamp"`
	MessageID    string         `json:"message_id"`
	LocationData map[string]any `json:"location_data"`
}

// ParseAccessRequest decodes a payload from access/requests/{device_id}.
// card_id and door_id are required; message_id and timestamp are filled
// in when absent.
func ParseAccessRequest(topic string, payload []byte) (AccessRequest, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[2] == "" {
		return AccessRequest{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	var w wireAccessRequest
	if err := json.Unmarshal(payload, &w); err != nil {
		return AccessRequest{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if w.CardID == nil {
		return AccessRequest{}, fmt.Errorf("%w: card_id", ErrMissingField)
	}
	if w.DoorID == nil {
		return AccessRequest{}, fmt.Errorf("%w: door_id", ErrMissingField)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return AccessRequest{}, err
	}

	return AccessRequest{
		CardID:       *w.CardID,
		DoorID:       *w.DoorID,
		DeviceID:     parts[2],
		PIN:          w.PIN,
		Timestamp:    ts,
		MessageID:    orNewID(w.MessageID),
		LocationData: w.LocationData,
	}, nil
}

type wireCommandAck struct {
	MessageID     *string        `json:"message_id"`
	Status        *string        `json:"status"`
	Result        map[string]any `json:"result"`
	ErrorMessage  string         `json:"error_message"`
	ExecutionTime *float64       `json:"execution_time"`
	Timestamp     string         `json:"timestamp"`
}

// ParseCommandAck decodes a payload from access/commands/{device_id}/ack.
// message_id and status are required.
func ParseCommandAck(topic string, payload []byte) (CommandAck, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[2] == "" {
		return CommandAck{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	var w wireCommandAck
	if err := json.Unmarshal(payload, &w); err != nil {
		return CommandAck{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if w.MessageID == nil {
		return CommandAck{}, fmt.Errorf("%w: message_id", ErrMissingField)
	}
	if w.Status == nil {
		return CommandAck{}, fmt.Errorf("%w: status", ErrMissingField)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return CommandAck{}, err
	}

	return CommandAck{
		MessageID:     *w.MessageID,
		DeviceID:      parts[2],
		Status:        AckStatus(*w.Status),
		Result:        w.Result,
		ErrorMessage:  w.ErrorMessage,
		ExecutionTime: w.ExecutionTime,
		Timestamp:     ts,
	}, nil
}

type wireStatus struct {
	Online          *bool  `json:"online"`
	DoorState       string `json:"door_state"`
	BatteryLevel    *int   `json:"battery_level"`
	SignalStrength  *int   `json:"signal_strength"`
	LastHeartbeat   string `json:"last_heartbeat"`
	ErrorMessage    string `json:"error_message"`
	FirmwareVersion string `json:"firmware_version"`
}

// ParseStatus decodes a payload from access/devices/{device_id}/status.
// Online defaults to true, door_state to "unknown" and last_heartbeat to now.
func ParseStatus(topic string, payload []byte) (Status, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[2] == "" {
		return Status{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	var w wireStatus
	if err := json.Unmarshal(payload, &w); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	heartbeat, err := parseTimestamp(w.LastHeartbeat)
	if err != nil {
		return Status{}, err
	}

	s := Status{
		DeviceID:        parts[2],
		Online:          true,
		DoorState:       "unknown",
		BatteryLevel:    w.BatteryLevel,
		SignalStrength:  w.SignalStrength,
		LastHeartbeat:   &heartbeat,
		ErrorMessage:    w.ErrorMessage,
		FirmwareVersion: w.FirmwareVersion,
	}
	if w.Online != nil {
		s.Online = *w.Online
	}
	if w.DoorState != "" {
		s.DoorState = w.DoorState
	}
	return s, nil
}

type wireEvent struct {
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Details   map[string]any `json:"details"`
	MessageID string         `json:"message_id"`
	Timestamp string         `json:"timestamp"`
}

// ParseEvent decodes a payload from access/events/{type}/{device_id} or
// access/events/{device_id}. In the short form the event type comes from
// the payload, defaulting to "generic". Severity defaults to info.
func ParseEvent(topic string, payload []byte) (Event, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[2] == "" {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return Event{}, err
	}

	e := Event{
		DeviceID:  parts[2],
		EventType: w.EventType,
		Severity:  Severity(w.Severity),
		Details:   w.Details,
		MessageID: orNewID(w.MessageID),
		Timestamp: ts,
	}
	if len(parts) == 4 && parts[3] != "" {
		e.EventType = parts[2]
		e.DeviceID = parts[3]
	}
	if e.EventType == "" {
		e.EventType = EventGeneric
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	return e, nil
}

// parseTimestamp accepts RFC 3339 with or without a zone; empty means now.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidPayload, value)
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
