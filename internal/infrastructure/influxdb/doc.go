// Package influxdb records access control telemetry in InfluxDB 2.x.
//
// It wraps the official influxdb-client-go v2 library with connection
// management and a handful of typed writers:
//   - WriteConnectionStats for periodic MQTT connection snapshots
//   - WriteRouterStats for message router counters
//   - WriteDoorEvent for per-door event rates
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mqttClient.SetStatsObserver(client.WriteConnectionStats)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; asynchronous
// write failures are delivered to the SetOnError callback.
package influxdb
