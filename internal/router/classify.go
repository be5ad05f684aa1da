package router

import (
	"fmt"
	"strings"
)

// Category identifies which processing routine a message belongs to.
type Category int

const (
	// CategoryUnknown is used for audited messages that matched no route.
	CategoryUnknown Category = iota
	// CategoryAccessRequest covers access/requests/{device_id}.
	CategoryAccessRequest
	// CategoryCommandAck covers access/commands/{device_id}/ack.
	CategoryCommandAck
	// CategoryDeviceStatus covers access/devices/{device_id}/status.
	CategoryDeviceStatus
	// CategoryDeviceEvent covers access/events/{event_type}/{device_id}.
	CategoryDeviceEvent
)

// Topic segments that drive classification.
const (
	segmentPrefix   = "access"
	segmentRequests = "requests"
	segmentCommands = "commands"
	segmentDevices  = "devices"
	segmentEvents   = "events"
	suffixAck       = "ack"
	suffixStatus    = "status"
)

var categoryNames = map[Category]string{
	CategoryUnknown:       "unknown",
	CategoryAccessRequest: "access_request",
	CategoryCommandAck:    "command_ack",
	CategoryDeviceStatus:  "device_status",
	CategoryDeviceEvent:   "device_event",
}

// String returns the snake_case name used in logs and metric labels.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Categories returns every routable category.
func Categories() []Category {
	return []Category{
		CategoryAccessRequest,
		CategoryCommandAck,
		CategoryDeviceStatus,
		CategoryDeviceEvent,
	}
}

// Classification is the result of matching a topic against the routes.
type Classification struct {
	Category Category
	DeviceID string
	Segments []string
}

// Classify maps a topic onto a Category.
//
// Rules, all under the "access" prefix with at least three segments:
//
//	access/requests/{device}          -> CategoryAccessRequest
//	access/commands/{device}/ack      -> CategoryCommandAck
//	access/devices/{device}/status    -> CategoryDeviceStatus
//	access/events/{type}[/{device}]   -> CategoryDeviceEvent
//
// Returns ErrMalformedTopic for topics with fewer than two segments and
// ErrUnroutable for anything else that does not match.
func Classify(topic string) (Classification, error) {
	parts := strings.Split(topic, "/")
	if topic == "" || len(parts) < 2 {
		return Classification{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	c := Classification{Category: CategoryUnknown, Segments: parts}
	if parts[0] != segmentPrefix || len(parts) < 3 || parts[2] == "" {
		return c, fmt.Errorf("%w: %q", ErrUnroutable, topic)
	}

	switch parts[1] {
	case segmentRequests:
		c.Category = CategoryAccessRequest
		c.DeviceID = parts[2]
	case segmentCommands:
		if len(parts) >= 4 && parts[3] == suffixAck {
			c.Category = CategoryCommandAck
			c.DeviceID = parts[2]
		}
	case segmentDevices:
		if len(parts) >= 4 && parts[3] == suffixStatus {
			c.Category = CategoryDeviceStatus
			c.DeviceID = parts[2]
		}
	case segmentEvents:
		c.Category = CategoryDeviceEvent
		// access/events/{type}/{device}; a bare access/events/{device}
		// carries the event type in its payload.
		if len(parts) >= 4 && parts[3] != "" {
			c.DeviceID = parts[3]
		} else {
			c.DeviceID = parts[2]
		}
	}

	if c.Category == CategoryUnknown {
		return c, fmt.Errorf("%w: %q", ErrUnroutable, topic)
	}
	return c, nil
}
