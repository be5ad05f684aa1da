// Package device implements the door-device side of the access control bus.
//
// Readers and door controllers talk to the core over MQTT:
//
//	access/requests/{device_id}          card presented, decision wanted
//	access/responses/{device_id}         decision sent back (QoS 2)
//	access/commands/{device_id}          unlock, lock, status, reboot, update_config
//	access/commands/{device_id}/ack      command outcome
//	access/devices/{device_id}/status    health report
//	access/events/{type}/{device_id}     door_forced, tamper_alert, ...
//	access/notifications/broadcast       message to every device
//	access/commands/emergency/lockdown   lock every door
//
// # Components
//
//   - messages.go: wire types and parsers for each topic family
//   - service.go: CommunicationService publishes responses and commands and
//     tracks commands awaiting acknowledgment
//   - handler.go: Handler plugs into router.Router and turns inbound traffic
//     into decisions, audit records and alerts
//   - status_history*.go: SQLite trail of device status reports
//
// Access decisions are delegated to an AccessValidator. With no validator
// configured every request is denied, so readers always get an answer.
package device
