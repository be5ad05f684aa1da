// Package router classifies inbound MQTT messages by topic and dispatches
// them to per-category handlers.
//
// Routes (all under the "access" prefix):
//
//	access/requests/{device_id}          access requests from readers
//	access/commands/{device_id}/ack      command acknowledgments
//	access/devices/{device_id}/status    device status reports
//	access/events/{type}/{device_id}     device events
//
// Every message is recorded through the MessageRecorder before it is
// classified, so unroutable traffic still reaches the audit log. Dispatch
// is spawn-and-track: HandleMessage never blocks, a semaphore bounds
// concurrent handlers, and Drain waits for outstanding work on shutdown.
//
// Usage:
//
//	r := router.New(router.Options{Recorder: auditRepo, Logger: log})
//	r.Register(router.CategoryAccessRequest, handler.HandleAccessRequest)
//	client := mqtt.New(opts, nil, r.HandleMessage)
package router
