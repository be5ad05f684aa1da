package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/access-control-core/internal/audit"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/metrics"
	"github.com/nerrad567/access-control-core/internal/router"
)

// ─── Status Tests ──────────────────────────────────────────────────

func TestMQTTStatus(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Router = fakeRouterStats{stats: router.Stats{Received: 7, Dropped: 1}}
	})

	w := env.do(t, http.MethodGet, "/api/v1/mqtt/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Connection mqtt.ConnectionStats `json:"connection"`
		Router     router.Stats         `json:"router"`
	}
	decodeBody(t, w, &resp)
	if resp.Connection.State != "connected" || resp.Connection.ClientID != "access-test" {
		t.Errorf("connection = %+v", resp.Connection)
	}
	if resp.Router.Received != 7 || resp.Router.Dropped != 1 {
		t.Errorf("router = %+v", resp.Router)
	}
}

func TestListBuffered(t *testing.T) {
	env := newTestEnv(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.mqtt.buffered = []mqtt.BufferedMessage{
		{Topic: "access/commands/reader-01", Payload: []byte(`{"command":"lock"}`), QoS: 1, EnqueuedAt: at},
		{Topic: "access/status/core", Payload: []byte("{}"), QoS: 1, Retain: true, EnqueuedAt: at.Add(time.Second)},
	}

	w := env.do(t, http.MethodGet, "/api/v1/mqtt/buffer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Count    int             `json:"count"`
		Messages []BufferedEntry `json:"messages"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 || len(resp.Messages) != 2 {
		t.Fatalf("resp = %+v, want 2 entries", resp)
	}
	first := resp.Messages[0]
	if first.Topic != "access/commands/reader-01" || first.SizeBytes != 18 || !first.EnqueuedAt.Equal(at) {
		t.Errorf("first entry = %+v", first)
	}
	if !resp.Messages[1].Retain {
		t.Error("second entry lost retain flag")
	}
}

// ─── Publish Tests ─────────────────────────────────────────────────

func TestPublish(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		connected  bool
		publishErr error
		wantCode   int
		wantQueued bool
	}{
		{name: "connected", body: `{"topic":"access/notifications/broadcast","payload":"hi"}`, connected: true, wantCode: http.StatusOK},
		{name: "offline buffers", body: `{"topic":"access/commands/reader-01","payload":{"command":"lock"}}`, wantCode: http.StatusAccepted, wantQueued: true},
		{name: "advisory failure", body: `{"topic":"access/commands/reader-01","payload":"x"}`, connected: true, publishErr: fmt.Errorf("%w: timeout", mqtt.ErrPublishFailed), wantCode: http.StatusAccepted, wantQueued: true},
		{name: "client rejects topic", body: `{"topic":"access/+/x","payload":"x"}`, connected: true, publishErr: mqtt.ErrInvalidTopic, wantCode: http.StatusBadRequest},
		{name: "unexpected error", body: `{"topic":"access/x/y","payload":"x"}`, connected: true, publishErr: mqtt.ErrNotConnected, wantCode: http.StatusBadGateway},
		{name: "invalid JSON", body: `{"topic":`, connected: true, wantCode: http.StatusBadRequest},
		{name: "missing topic", body: `{"payload":"x"}`, connected: true, wantCode: http.StatusBadRequest},
		{name: "qos out of range", body: `{"topic":"access/x/y","qos":3}`, connected: true, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mqtt.connected = tt.connected
			env.mqtt.publishErr = tt.publishErr

			w := env.do(t, http.MethodPost, "/api/v1/mqtt/publish", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			if w.Code >= http.StatusBadRequest {
				return
			}

			var resp PublishResponse
			decodeBody(t, w, &resp)
			if resp.Queued != tt.wantQueued {
				t.Errorf("queued = %v, want %v", resp.Queued, tt.wantQueued)
			}
		})
	}
}

func TestPublish_Payload(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantPayload string
		wantQoS     byte
		wantRetain  bool
	}{
		{name: "string payload is raw text", body: `{"topic":"access/a/b","payload":"hello"}`, wantPayload: "hello", wantQoS: 1},
		{name: "object payload is JSON", body: `{"topic":"access/a/b","payload":{"k":1}}`, wantPayload: `{"k":1}`, wantQoS: 1},
		{name: "explicit qos and retain", body: `{"topic":"access/a/b","payload":"x","qos":0,"retain":true}`, wantPayload: "x", wantQoS: 0, wantRetain: true},
		{name: "no payload", body: `{"topic":"access/a/b"}`, wantPayload: "", wantQoS: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if w := env.do(t, http.MethodPost, "/api/v1/mqtt/publish", tt.body); w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			got := env.mqtt.last(t)
			if string(got.payload) != tt.wantPayload || got.qos != tt.wantQoS || got.retain != tt.wantRetain {
				t.Errorf("published = %q qos=%d retain=%v, want %q qos=%d retain=%v",
					got.payload, got.qos, got.retain, tt.wantPayload, tt.wantQoS, tt.wantRetain)
			}
		})
	}
}

func TestPublish_CountsOutcomes(t *testing.T) {
	collector := metrics.New()
	env := newTestEnv(t, func(d *Deps) { d.Metrics = collector })

	env.do(t, http.MethodPost, "/api/v1/mqtt/publish", `{"topic":"access/a/b","payload":"x"}`)
	env.mqtt.connected = false
	env.do(t, http.MethodPost, "/api/v1/mqtt/publish", `{"topic":"access/a/b","payload":"x"}`)

	env.mqtt.publishErr = mqtt.ErrNotConnected
	env.do(t, http.MethodPost, "/api/v1/mqtt/publish", `{"topic":"access/a/b","payload":"x"}`)

	body := env.do(t, http.MethodGet, "/metrics", "").Body.String()
	for _, want := range []string{
		`access_api_publishes_total{outcome="sent"} 1`,
		`access_api_publishes_total{outcome="queued"} 1`,
		`access_api_publishes_total{outcome="failed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

// ─── Message Log Tests ─────────────────────────────────────────────

func TestListMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, topic := range []string{"access/requests/reader-01", "access/devices/reader-01/status", "alerts/devices/reader-01/health"} {
		if err := env.audit.RecordMessage(ctx, topic, []byte(`{}`)); err != nil {
			t.Fatalf("RecordMessage() error = %v", err)
		}
	}

	tests := []struct {
		query     string
		wantCode  int
		wantTotal int
	}{
		{query: "", wantCode: http.StatusOK, wantTotal: 3},
		{query: "?topic=access/", wantCode: http.StatusOK, wantTotal: 2},
		{query: "?limit=1", wantCode: http.StatusOK, wantTotal: 3},
		{query: "?since=2999-01-01T00:00:00Z", wantCode: http.StatusOK, wantTotal: 0},
		{query: "?since=yesterday", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/mqtt/messages"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp audit.MessageListResult
			decodeBody(t, w, &resp)
			if resp.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", resp.Total, tt.wantTotal)
			}
		})
	}
}

func TestGetMessage(t *testing.T) {
	env := newTestEnv(t)
	if err := env.audit.RecordMessage(context.Background(), "access/requests/reader-01", []byte(`{"card_id":"C1"}`)); err != nil {
		t.Fatalf("RecordMessage() error = %v", err)
	}
	list, err := env.audit.ListMessages(context.Background(), audit.MessageFilter{})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/mqtt/messages/"+list.Messages[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var msg audit.MessageLog
	decodeBody(t, w, &msg)
	if msg.Payload != `{"card_id":"C1"}` {
		t.Errorf("payload = %q", msg.Payload)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/mqtt/messages/msg-missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing message status = %d, want 404", w.Code)
	}
}

func TestMessageLog_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.AuditRepo = nil })

	for _, path := range []string{"/api/v1/mqtt/messages", "/api/v1/mqtt/messages/x", "/api/v1/audit"} {
		if w := env.do(t, http.MethodGet, path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}
