// Package audit persists the access control audit trail in SQLite.
//
// Two tables are served by SQLiteRepository:
//
//   - audit_logs: operator and system actions (unlocks, lockdowns, manual
//     publishes, MQTT connection state changes)
//   - mqtt_messages: every inbound MQTT message plus the records derived
//     from them (command acks, status snapshots, alerts)
//
// The repository implements router.MessageRecorder, so the router audits
// each inbound message before classifying it.
package audit
