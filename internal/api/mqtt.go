package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/access-control-core/internal/audit"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/access-control-core/internal/metrics"
)

// defaultPublishQoS is used when a publish request omits qos.
const defaultPublishQoS = 1

// PublishRequest is the body of POST /api/v1/mqtt/publish.
//
// Payload may be any JSON value. A JSON string is published as its raw
// text; anything else is published as its JSON encoding.
type PublishRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	QoS     *int            `json:"qos,omitempty"`
	Retain  bool            `json:"retain"`
}

// PublishResponse reports how a publish was handled.
type PublishResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
	Queued bool   `json:"queued"`
}

// Publish outcomes reported to callers.
const (
	publishStatusSent   = "published"
	publishStatusQueued = "queued"
)

// handleMQTTStatus returns connection stats and router counters.
func (s *Server) handleMQTTStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"connection": s.mqtt.Stats(),
	}
	if s.router != nil {
		resp["router"] = s.router.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// BufferedEntry describes one message waiting for replay. Payloads are
// omitted; operators only need to see what is queued and since when.
type BufferedEntry struct {
	Topic      string    `json:"topic"`
	QoS        byte      `json:"qos"`
	Retain     bool      `json:"retain"`
	SizeBytes  int       `json:"size_bytes"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// handleListBuffered lists the outbound buffer oldest first.
func (s *Server) handleListBuffered(w http.ResponseWriter, _ *http.Request) {
	msgs := s.mqtt.BufferedMessages()
	entries := make([]BufferedEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = BufferedEntry{
			Topic:      m.Topic,
			QoS:        m.QoS,
			Retain:     m.Retain,
			SizeBytes:  len(m.Payload),
			EnqueuedAt: m.EnqueuedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(entries),
		"capacity": s.mqtt.Stats().BufferCapacity,
		"messages": entries,
	})
}

// handlePublish publishes an operator-supplied message.
//
// Responses:
//   - 200 when the message was handed to the broker
//   - 202 when it was buffered for replay (client offline or send failed)
//   - 400 for an invalid topic, QoS or payload
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeBadRequest(w, "topic is required")
		return
	}

	qos := defaultPublishQoS
	if req.QoS != nil {
		qos = *req.QoS
	}
	if qos < 0 || qos > 2 {
		writeBadRequest(w, "qos must be 0, 1 or 2")
		return
	}

	payload := publishPayload(req.Payload)
	queued, err := s.publish(req.Topic, payload, byte(qos), req.Retain)
	if err != nil {
		s.observePublish(metrics.PublishFailed)
		writeBusError(w, err)
		return
	}

	resp := PublishResponse{Status: publishStatusSent, Topic: req.Topic, Queued: queued}
	status := http.StatusOK
	if queued {
		resp.Status = publishStatusQueued
		status = http.StatusAccepted
		s.observePublish(metrics.PublishQueued)
	} else {
		s.observePublish(metrics.PublishSent)
	}

	s.auditLog(r, audit.ActionPublish, "topic", req.Topic, map[string]any{
		"qos":    qos,
		"retain": req.Retain,
		"bytes":  len(payload),
		"queued": queued,
	})

	writeJSON(w, status, resp)
}

// publish sends through the MQTT client and reports whether the message
// ended up buffered rather than delivered. An advisory ErrPublishFailed
// counts as queued: the client already holds the authoritative copy.
func (s *Server) publish(topic string, payload []byte, qos byte, retain bool) (queued bool, err error) {
	connected := s.mqtt.IsConnected()
	err = s.mqtt.Publish(topic, payload, qos, retain)
	if errors.Is(err, mqtt.ErrPublishFailed) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !connected, nil
}

func (s *Server) observePublish(outcome string) {
	if s.metrics != nil {
		s.metrics.ObservePublish(outcome)
	}
}

// publishPayload unwraps a JSON string to its text and keeps any other
// JSON value as-is.
func publishPayload(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []byte(text)
	}
	return raw
}

// handleListMessages returns the message log, newest first.
//
// Query parameters:
//   - topic: only topics starting with this prefix
//   - since: RFC3339 timestamp lower bound
//   - limit, offset: paging (default 50, max 200)
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "message log not configured")
		return
	}

	filter := audit.MessageFilter{TopicPrefix: r.URL.Query().Get("topic")}
	if len(filter.TopicPrefix) > maxQueryParamLen {
		writeBadRequest(w, "topic exceeds maximum length")
		return
	}
	since, err := parseTimeParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}
	filter.Since = since
	filter.Limit, filter.Offset = parsePaging(r)

	result, err := s.auditRepo.ListMessages(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		writeInternalError(w, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetMessage returns one logged message.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "message log not configured")
		return
	}

	msg, err := s.auditRepo.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, audit.ErrMessageNotFound) {
		writeNotFound(w, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get message", "error", err)
		writeInternalError(w, "failed to get message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// parseTimeParam parses an optional RFC3339 time bound. Empty means unbounded.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
