package device

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

type publishedMessage struct {
	topic   string
	payload []byte
	qos     byte
}

// fakePublisher records publishes and returns err for every call.
type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, publishedMessage{topic: topic, payload: payload, qos: qos})
	return f.err
}

func (f *fakePublisher) published() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedMessage(nil), f.msgs...)
}

// decode unmarshals the i-th published payload into v.
func (f *fakePublisher) decode(t *testing.T, i int, v any) publishedMessage {
	t.Helper()
	msgs := f.published()
	if i >= len(msgs) {
		t.Fatalf("published %d messages, want at least %d", len(msgs), i+1)
	}
	if err := json.Unmarshal(msgs[i].payload, v); err != nil {
		t.Fatalf("unmarshal %s payload: %v", msgs[i].topic, err)
	}
	return msgs[i]
}

type fakeRecorder struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeRecorder) RecordMessage(_ context.Context, topic string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeRecorder) has(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.topics {
		if t == topic {
			return true
		}
	}
	return false
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (f *fakeNotifier) Notify(a Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.alerts))
	for i, a := range f.alerts {
		out[i] = a.Type
	}
	return out
}

type fakeHistory struct {
	mu       sync.Mutex
	statuses []Status
}

func (f *fakeHistory) RecordStatus(_ context.Context, s Status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *fakeHistory) GetHistory(context.Context, HistoryQuery) ([]StatusHistoryEntry, error) {
	return nil, nil
}

// validatorFunc adapts a function to AccessValidator.
type validatorFunc func(ctx context.Context, req AccessRequest) (AccessResponse, error)

func (f validatorFunc) ValidateAccess(ctx context.Context, req AccessRequest) (AccessResponse, error) {
	return f(ctx, req)
}

type fakeTelemetry struct {
	events []string
}

func (f *fakeTelemetry) WriteDoorEvent(deviceID, eventType, severity string) {
	f.events = append(f.events, deviceID+"/"+eventType+"/"+severity)
}
