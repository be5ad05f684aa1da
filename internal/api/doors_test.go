package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/access-control-core/internal/audit"
	"github.com/nerrad567/access-control-core/internal/device"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
)

// ─── Door Command Tests ────────────────────────────────────────────

func TestDoorCommands(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		body        string
		connected   bool
		publishErr  error
		wantCode    int
		wantCommand device.CommandType
		wantQueued  bool
	}{
		{name: "unlock default duration", path: "/api/v1/devices/reader-01/unlock", connected: true, wantCode: http.StatusOK, wantCommand: device.CommandUnlock},
		{name: "unlock with duration", path: "/api/v1/devices/reader-01/unlock", body: `{"duration":12}`, connected: true, wantCode: http.StatusOK, wantCommand: device.CommandUnlock},
		{name: "unlock invalid body", path: "/api/v1/devices/reader-01/unlock", body: `{"duration":`, connected: true, wantCode: http.StatusBadRequest},
		{name: "lock", path: "/api/v1/devices/reader-01/lock", connected: true, wantCode: http.StatusOK, wantCommand: device.CommandLock},
		{name: "status request", path: "/api/v1/devices/reader-01/status", connected: true, wantCode: http.StatusOK, wantCommand: device.CommandStatus},
		{name: "offline is queued", path: "/api/v1/devices/reader-01/lock", wantCode: http.StatusAccepted, wantCommand: device.CommandLock, wantQueued: true},
		{name: "advisory failure is queued", path: "/api/v1/devices/reader-01/lock", connected: true, publishErr: fmt.Errorf("%w: timeout", mqtt.ErrPublishFailed), wantCode: http.StatusAccepted, wantCommand: device.CommandLock, wantQueued: true},
		{name: "hard failure", path: "/api/v1/devices/reader-01/lock", connected: true, publishErr: mqtt.ErrNotConnected, wantCode: http.StatusBadGateway},
		{name: "wildcard device id", path: "/api/v1/devices/reader+01/lock", connected: true, wantCode: http.StatusBadRequest},
		{name: "overlong device id", path: "/api/v1/devices/" + strings.Repeat("d", maxQueryParamLen+1) + "/lock", connected: true, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mqtt.connected = tt.connected
			env.mqtt.publishErr = tt.publishErr

			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if w.Code >= http.StatusBadRequest {
				return
			}

			var resp CommandResponse
			decodeBody(t, w, &resp)
			if resp.Command.Command != tt.wantCommand {
				t.Errorf("command = %q, want %q", resp.Command.Command, tt.wantCommand)
			}
			if resp.Command.DeviceID != "reader-01" {
				t.Errorf("device_id = %q, want reader-01", resp.Command.DeviceID)
			}
			if resp.Queued != tt.wantQueued {
				t.Errorf("queued = %v, want %v", resp.Queued, tt.wantQueued)
			}

			if got := env.mqtt.last(t).topic; got != "access/commands/reader-01" {
				t.Errorf("published topic = %q, want access/commands/reader-01", got)
			}
		})
	}
}

func TestUnlock_Duration(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{name: "configured default", body: "", want: 5},
		{name: "explicit", body: `{"duration":12}`, want: 12},
		{name: "non-positive falls back", body: `{"duration":0}`, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if w := env.do(t, http.MethodPost, "/api/v1/devices/reader-01/unlock", tt.body); w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			var cmd struct {
				Parameters map[string]any `json:"parameters"`
			}
			if err := json.Unmarshal(env.mqtt.last(t).payload, &cmd); err != nil {
				t.Fatalf("unmarshal published command: %v", err)
			}
			if got := cmd.Parameters["duration"]; got != tt.want {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPendingCommands(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/devices/reader-01/unlock", "")
	env.do(t, http.MethodPost, "/api/v1/devices/reader-02/lock", "")

	w := env.do(t, http.MethodGet, "/api/v1/devices/commands/pending", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Commands []device.DoorCommand `json:"commands"`
		Count    int                  `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 || len(resp.Commands) != 2 {
		t.Fatalf("count = %d, commands = %d, want 2", resp.Count, len(resp.Commands))
	}
}

func TestPendingCommands_DropsHardFailures(t *testing.T) {
	env := newTestEnv(t)
	env.mqtt.publishErr = mqtt.ErrNotConnected
	env.do(t, http.MethodPost, "/api/v1/devices/reader-01/unlock", "")

	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, env.do(t, http.MethodGet, "/api/v1/devices/commands/pending", ""), &resp)
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0 after a failed send", resp.Count)
	}
}

// ─── Broadcast Tests ───────────────────────────────────────────────

func TestEmergencyLockdown(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		connected  bool
		wantCode   int
		wantReason string
	}{
		{name: "with reason", body: `{"reason":"fire alarm"}`, connected: true, wantCode: http.StatusOK, wantReason: "fire alarm"},
		{name: "default reason", body: "", connected: true, wantCode: http.StatusOK, wantReason: "manual lockdown"},
		{name: "offline is queued", body: `{"reason":"drill"}`, wantCode: http.StatusAccepted, wantReason: "drill"},
		{name: "invalid JSON", body: `{`, connected: true, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mqtt.connected = tt.connected

			w := env.do(t, http.MethodPost, "/api/v1/emergency/lockdown", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if w.Code >= http.StatusBadRequest {
				return
			}

			got := env.mqtt.last(t)
			if got.topic != "access/commands/emergency/lockdown" {
				t.Errorf("topic = %q", got.topic)
			}
			var lockdown device.Lockdown
			if err := json.Unmarshal(got.payload, &lockdown); err != nil {
				t.Fatalf("unmarshal lockdown: %v", err)
			}
			if lockdown.Command != "emergency_lock" || lockdown.Reason != tt.wantReason {
				t.Errorf("lockdown = %+v", lockdown)
			}
		})
	}
}

func TestBroadcastNotification(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantCode     int
		wantSeverity device.Severity
	}{
		{name: "default severity", body: `{"message":"fire drill at 10:00"}`, wantCode: http.StatusOK, wantSeverity: device.SeverityInfo},
		{name: "explicit severity", body: `{"message":"evacuate","severity":"critical"}`, wantCode: http.StatusOK, wantSeverity: device.SeverityCritical},
		{name: "blank message", body: `{"message":"  "}`, wantCode: http.StatusBadRequest},
		{name: "no body", body: "", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/api/v1/notifications", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if w.Code >= http.StatusBadRequest {
				return
			}

			got := env.mqtt.last(t)
			if got.topic != "access/notifications/broadcast" {
				t.Errorf("topic = %q", got.topic)
			}
			var n device.Notification
			if err := json.Unmarshal(got.payload, &n); err != nil {
				t.Fatalf("unmarshal notification: %v", err)
			}
			if n.Severity != tt.wantSeverity {
				t.Errorf("severity = %q, want %q", n.Severity, tt.wantSeverity)
			}
		})
	}
}

// ─── Audit Tests ───────────────────────────────────────────────────

func TestAuditLog_ListFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	entries := []*audit.AuditLog{
		{Action: audit.ActionUnlock, EntityType: "device", EntityID: "reader-01", Source: audit.SourceAPI},
		{Action: audit.ActionLock, EntityType: "device", EntityID: "reader-02", Source: audit.SourceAPI},
		{Action: audit.ActionMQTTState, EntityType: "mqtt", EntityID: "broker", Source: audit.SourceSystem},
	}
	for _, entry := range entries {
		if err := env.audit.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		query     string
		wantTotal int
	}{
		{query: "", wantTotal: 3},
		{query: "?action=unlock", wantTotal: 1},
		{query: "?entity_id=reader-02", wantTotal: 1},
		{query: "?source=system", wantTotal: 1},
		{query: "?entity_type=device", wantTotal: 2},
		{query: "?until=2000-01-01T00:00:00Z", wantTotal: 0},
		{query: "?since=2000-01-01T00:00:00Z", wantTotal: 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/audit"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp audit.ListResult
			decodeBody(t, w, &resp)
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}

	for _, bad := range []string{"?since=yesterday", "?until=12:00"} {
		if w := env.do(t, http.MethodGet, "/api/v1/audit"+bad, ""); w.Code != http.StatusBadRequest {
			t.Errorf("GET /api/v1/audit%s status = %d, want 400", bad, w.Code)
		}
	}
}
