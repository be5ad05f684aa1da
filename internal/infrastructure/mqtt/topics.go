package mqtt

import (
	"fmt"
	"regexp"
	"strings"
)

// TopicPrefix is the root of every access control topic.
//
// All topics follow access/{type}/{id}[/{action}].
const TopicPrefix = "access"

// Topic type segments.
const (
	TopicTypeDoors         = "doors"
	TopicTypeCards         = "cards"
	TopicTypeCommands      = "commands"
	TopicTypeStatus        = "status"
	TopicTypeRequests      = "requests"
	TopicTypeResponses     = "responses"
	TopicTypeDevices       = "devices"
	TopicTypeEvents        = "events"
	TopicTypeNotifications = "notifications"
)

// topicPattern matches access/{type}/{id}[/{action}]. The action may
// itself contain slashes.
var topicPattern = regexp.MustCompile(`^` + TopicPrefix + `/([^/]+)/([^/]+)(?:/(.+))?$`)

// Topics provides builders for access control MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.DoorEvents("main_entrance")
//	// Returns: "access/doors/main_entrance/events"
type Topics struct{}

// ParsedTopic is the structured form of a canonical topic.
type ParsedTopic struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Action string `json:"action,omitempty"`
}

// =============================================================================
// Door and Card Topics
// =============================================================================

// DoorEvents returns the topic for events raised by a door.
//
// Example: access/doors/main_entrance/events
func (Topics) DoorEvents(doorID string) string {
	return fmt.Sprintf("%s/%s/%s/events", TopicPrefix, TopicTypeDoors, doorID)
}

// CardScans returns the topic for scans of a card.
//
// Example: access/cards/card-1234/scans
func (Topics) CardScans(cardID string) string {
	return fmt.Sprintf("%s/%s/%s/scans", TopicPrefix, TopicTypeCards, cardID)
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceCommand returns the topic for commands sent to a device.
//
// Example: access/commands/reader-01
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, TopicTypeCommands, deviceID)
}

// DeviceStatus returns the retained presence topic of a device or client.
//
// Example: access/status/reader-01
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, TopicTypeStatus, deviceID)
}

// AccessRequest returns the topic a reader publishes access requests on.
//
// Example: access/requests/reader-01
func (Topics) AccessRequest(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, TopicTypeRequests, deviceID)
}

// AccessResponse returns the topic access decisions are sent to.
//
// Example: access/responses/reader-01
func (Topics) AccessResponse(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, TopicTypeResponses, deviceID)
}

// CommandAck returns the topic a device acknowledges commands on.
//
// Example: access/commands/reader-01/ack
func (Topics) CommandAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/ack", TopicPrefix, TopicTypeCommands, deviceID)
}

// DeviceStatusReport returns the topic a device reports its health on.
//
// Example: access/devices/reader-01/status
func (Topics) DeviceStatusReport(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/status", TopicPrefix, TopicTypeDevices, deviceID)
}

// DeviceEvent returns the topic for a typed device event.
//
// Example: access/events/door_forced/reader-01
func (Topics) DeviceEvent(eventType, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, TopicTypeEvents, eventType, deviceID)
}

// =============================================================================
// Broadcast Topics
// =============================================================================

// BroadcastNotification returns the topic every device listens to.
//
// Example: access/notifications/broadcast
func (Topics) BroadcastNotification() string {
	return fmt.Sprintf("%s/%s/broadcast", TopicPrefix, TopicTypeNotifications)
}

// EmergencyLockdown returns the emergency lockdown topic.
//
// Example: access/commands/emergency/lockdown
func (Topics) EmergencyLockdown() string {
	return fmt.Sprintf("%s/%s/emergency/lockdown", TopicPrefix, TopicTypeCommands)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllAccessRequests matches access requests from every reader.
//
// Pattern: access/requests/+
func (Topics) AllAccessRequests() string {
	return fmt.Sprintf("%s/%s/+", TopicPrefix, TopicTypeRequests)
}

// AllCommandAcks matches command acknowledgements from every device.
//
// Pattern: access/commands/+/ack
func (Topics) AllCommandAcks() string {
	return fmt.Sprintf("%s/%s/+/ack", TopicPrefix, TopicTypeCommands)
}

// AllDeviceStatus matches health reports from every device.
//
// Pattern: access/devices/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/%s/+/status", TopicPrefix, TopicTypeDevices)
}

// AllDeviceEvents matches every device event.
//
// Pattern: access/events/#
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/%s/#", TopicPrefix, TopicTypeEvents)
}

// AllTopics matches all access control traffic.
// Use with caution - this receives ALL traffic.
//
// Pattern: access/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// InboundSubscriptions returns the filters the core subscribes to at startup.
func (t Topics) InboundSubscriptions() []string {
	return []string{
		t.AllAccessRequests(),
		t.AllCommandAcks(),
		t.AllDeviceStatus(),
		t.AllDeviceEvents(),
	}
}

// =============================================================================
// Parsing and Validation
// =============================================================================

// ParseTopic splits a canonical topic into type, id and action.
//
// Returns false for topics outside the access/{type}/{id}[/{action}]
// pattern.
//
// Example:
//
//	p, ok := mqtt.ParseTopic("access/doors/main_entrance/events")
//	// p = {Type: "doors", ID: "main_entrance", Action: "events"}, ok = true
func ParseTopic(topic string) (ParsedTopic, bool) {
	m := topicPattern.FindStringSubmatch(topic)
	if m == nil {
		return ParsedTopic{}, false
	}
	return ParsedTopic{Type: m[1], ID: m[2], Action: m[3]}, true
}

// ValidateTopic reports whether topic starts with the access prefix and
// has at least three segments.
func ValidateTopic(topic string) bool {
	if !strings.HasPrefix(topic, TopicPrefix+"/") {
		return false
	}
	return len(strings.Split(topic, "/")) >= 3
}
