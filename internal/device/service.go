package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
)

// QoS levels for outbound device traffic.
const (
	qosResponse     byte = 2
	qosCommand      byte = 2
	qosNotification byte = 1
	qosLockdown     byte = 2
)

// DefaultCommandMaxAge is how long a command may wait for its ack before
// CleanupExpired discards it.
const DefaultCommandMaxAge = 300 * time.Second

// Publisher is the outbound side of the MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notification is a broadcast to every device.
type Notification struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Lockdown is the emergency lock-all command.
type Lockdown struct {
	Command   string    `json:"command"`
	Reason    string    `json:"reason"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CommunicationService sends responses and commands to door devices and
// tracks commands awaiting acknowledgment.
//
// Publish errors wrapping mqtt.ErrPublishFailed are advisory: the client
// has already buffered the message for replay, so pending tracking is kept
// and callers must not resend.
//
// All public methods are thread-safe.
type CommunicationService struct {
	publisher      Publisher
	topics         mqtt.Topics
	unlockDuration int

	pending   map[string]DoorCommand // keyed by message ID
	pendingMu sync.Mutex

	logger Logger
	now    func() time.Time
}

// NewCommunicationService creates a service publishing through publisher.
// A non-positive unlockDuration selects DefaultUnlockDuration.
func NewCommunicationService(publisher Publisher, unlockDuration int) *CommunicationService {
	if unlockDuration <= 0 {
		unlockDuration = DefaultUnlockDuration
	}
	return &CommunicationService{
		publisher:      publisher,
		unlockDuration: unlockDuration,
		pending:        make(map[string]DoorCommand),
		logger:         noopLogger{},
		now:            time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *CommunicationService) SetLogger(logger Logger) {
	s.logger = logger
}

// publishJSON marshals v and publishes it.
func (s *CommunicationService) publishJSON(topic string, v any, qos byte) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", topic, err)
	}
	if err := s.publisher.Publish(topic, payload, qos, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishAccessResponse sends an access decision to access/responses/{device_id}.
func (s *CommunicationService) PublishAccessResponse(deviceID string, resp AccessResponse) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	if err := s.publishJSON(s.topics.AccessResponse(deviceID), resp, qosResponse); err != nil {
		s.logger.Error("failed to send access response", "device_id", deviceID, "error", err)
		return err
	}
	s.logger.Info("access response sent", "device_id", deviceID, "granted", resp.AccessGranted)
	return nil
}

// SendDoorCommand publishes a command to access/commands/{device_id}.
// Commands that require an ack are tracked until AcknowledgeCommand or
// CleanupExpired removes them.
func (s *CommunicationService) SendDoorCommand(cmd DoorCommand) error {
	if cmd.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if !cmd.Command.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Command)
	}

	if cmd.RequiresAck {
		s.pendingMu.Lock()
		s.pending[cmd.MessageID] = cmd
		s.pendingMu.Unlock()
	}

	err := s.publishJSON(s.topics.DeviceCommand(cmd.DeviceID), cmd, qosCommand)
	if err != nil && !isBuffered(err) {
		s.forget(cmd.MessageID)
		s.logger.Error("failed to send command", "device_id", cmd.DeviceID, "command", cmd.Command, "error", err)
		return err
	}

	s.logger.Info("command sent", "device_id", cmd.DeviceID, "command", cmd.Command, "message_id", cmd.MessageID)
	return err
}

// SendUnlock releases a door. A non-positive duration uses the configured default.
func (s *CommunicationService) SendUnlock(deviceID string, duration int) (DoorCommand, error) {
	if duration <= 0 {
		duration = s.unlockDuration
	}
	cmd := UnlockCommand(deviceID, duration)
	return cmd, s.SendDoorCommand(cmd)
}

// SendLock secures a door.
func (s *CommunicationService) SendLock(deviceID string) (DoorCommand, error) {
	cmd := LockCommand(deviceID)
	return cmd, s.SendDoorCommand(cmd)
}

// RequestStatus asks a device to report its status.
func (s *CommunicationService) RequestStatus(deviceID string) (DoorCommand, error) {
	cmd := StatusRequestCommand(deviceID)
	return cmd, s.SendDoorCommand(cmd)
}

// BroadcastNotification publishes to access/notifications/broadcast.
func (s *CommunicationService) BroadcastNotification(message string, severity Severity) (Notification, error) {
	if severity == "" {
		severity = SeverityInfo
	}
	n := Notification{
		Message:   message,
		Severity:  severity,
		MessageID: uuid.NewString(),
		Timestamp: s.now().UTC(),
	}
	if err := s.publishJSON(s.topics.BroadcastNotification(), n, qosNotification); err != nil {
		s.logger.Error("failed to broadcast notification", "error", err)
		return n, err
	}
	s.logger.Info("notification broadcast", "severity", severity, "message", message)
	return n, nil
}

// EmergencyLockdown publishes the lock-all command.
func (s *CommunicationService) EmergencyLockdown(reason string) (Lockdown, error) {
	l := Lockdown{
		Command:   "emergency_lock",
		Reason:    reason,
		MessageID: uuid.NewString(),
		Timestamp: s.now().UTC(),
	}
	if err := s.publishJSON(s.topics.EmergencyLockdown(), l, qosLockdown); err != nil {
		s.logger.Error("failed to initiate emergency lockdown", "error", err)
		return l, err
	}
	s.logger.Warn("emergency lockdown initiated", "reason", reason, "message_id", l.MessageID)
	return l, nil
}

// AcknowledgeCommand removes the acknowledged command from pending tracking.
// It returns the command and true when it was pending.
func (s *CommunicationService) AcknowledgeCommand(ack CommandAck) (DoorCommand, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	cmd, ok := s.pending[ack.MessageID]
	if ok {
		delete(s.pending, ack.MessageID)
	}
	return cmd, ok
}

// PendingCommands returns commands awaiting ack, oldest first.
func (s *CommunicationService) PendingCommands() []DoorCommand {
	s.pendingMu.Lock()
	cmds := make([]DoorCommand, 0, len(s.pending))
	for _, cmd := range s.pending {
		cmds = append(cmds, cmd)
	}
	s.pendingMu.Unlock()

	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].Timestamp.Before(cmds[j].Timestamp)
	})
	return cmds
}

// CleanupExpired drops commands pending longer than maxAge and returns
// their message IDs. A non-positive maxAge selects DefaultCommandMaxAge.
func (s *CommunicationService) CleanupExpired(maxAge time.Duration) []string {
	if maxAge <= 0 {
		maxAge = DefaultCommandMaxAge
	}
	now := s.now()

	s.pendingMu.Lock()
	var expired []string
	for id, cmd := range s.pending {
		if now.Sub(cmd.Timestamp) > maxAge {
			expired = append(expired, id)
			delete(s.pending, id)
		}
	}
	s.pendingMu.Unlock()

	for _, id := range expired {
		s.logger.Warn("command expired without ack", "message_id", id, "max_age", maxAge.String())
	}
	return expired
}

// RunCleanup calls CleanupExpired every interval until ctx is cancelled.
func (s *CommunicationService) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired(maxAge)
		}
	}
}

func (s *CommunicationService) forget(messageID string) {
	s.pendingMu.Lock()
	delete(s.pending, messageID)
	s.pendingMu.Unlock()
}

// isBuffered reports whether a publish error left the message queued for replay.
func isBuffered(err error) bool {
	return err != nil && errors.Is(err, mqtt.ErrPublishFailed)
}
