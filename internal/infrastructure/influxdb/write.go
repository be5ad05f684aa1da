package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/router"
)

// Measurement names written by this package.
const (
	MeasurementConnection = "mqtt_connection"
	MeasurementRouter     = "message_router"
	MeasurementDoorEvent  = "door_events"
)

// WriteConnectionStats records one MQTT connection stats snapshot.
//
// The write is non-blocking; points are batched and sent asynchronously.
// It is designed to be called from mqtt.Client's stats observer:
//
//	client.SetStatsObserver(func(s mqtt.ConnectionStats) {
//	    influx.WriteConnectionStats(s)
//	})
func (c *Client) WriteConnectionStats(stats mqtt.ConnectionStats) {
	c.WritePoint(
		MeasurementConnection,
		map[string]string{
			"client_id": stats.ClientID,
			"broker":    stats.Broker,
		},
		map[string]any{
			"state":              stats.State,
			"connected":          stats.Connected,
			"uptime_seconds":     stats.UptimeSeconds,
			"messages_sent":      stats.MessagesSent,
			"messages_received":  stats.MessagesReceived,
			"publish_failures":   stats.PublishFailures,
			"buffer_evictions":   stats.BufferEvictions,
			"reconnect_attempts": stats.ReconnectAttempts,
			"buffered_messages":  stats.BufferedMessages,
			"breaker_open":       stats.CircuitBreaker.IsOpen,
			"breaker_failures":   stats.CircuitBreaker.FailureCount,
		},
	)
}

// WriteRouterStats records one message router counter snapshot.
func (c *Client) WriteRouterStats(stats router.Stats) {
	c.WritePoint(
		MeasurementRouter,
		nil,
		map[string]any{
			"received":  stats.Received,
			"processed": stats.Processed,
			"failed":    stats.Failed,
			"dropped":   stats.Dropped,
			"in_flight": stats.InFlight,
		},
	)
}

// WriteDoorEvent records a single door event occurrence, tagged by device,
// event type and severity, so event rates can be graphed per door.
func (c *Client) WriteDoorEvent(deviceID, eventType, severity string) {
	c.WritePoint(
		MeasurementDoorEvent,
		map[string]string{
			"device_id":  deviceID,
			"event_type": eventType,
			"severity":   severity,
		},
		map[string]any{
			"count": 1,
		},
	)
}

// WritePoint queues a point stamped with the current time. It is a no-op
// once the client is closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
