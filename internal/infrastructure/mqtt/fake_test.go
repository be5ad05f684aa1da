package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// errFakeDial is returned by fakeDialer while it is told to fail.
var errFakeDial = errors.New("fake: broker unreachable")

// fakeSession is an in-memory Session that records every call.
type fakeSession struct {
	inbound chan<- Message

	mu         sync.Mutex
	ops        []string
	published  []BufferedMessage
	subscribed []string
	publishErr error

	done chan struct{}
	once sync.Once
	err  error
}

func newFakeSession(inbound chan<- Message) *fakeSession {
	return &fakeSession{inbound: inbound, done: make(chan struct{})}
}

func (s *fakeSession) Publish(_ context.Context, topic string, payload []byte, qos byte, retain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.ops = append(s.ops, "pub:"+topic)
	s.published = append(s.published, BufferedMessage{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	return nil
}

func (s *fakeSession) Subscribe(_ context.Context, topic string, _ byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "sub:"+topic)
	s.subscribed = append(s.subscribed, topic)
	return nil
}

func (s *fakeSession) Unsubscribe(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "unsub:"+topic)
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSession) Close() { s.drop(nil) }

// drop ends the session as if the broker went away.
func (s *fakeSession) drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *fakeSession) setPublishErr(err error) {
	s.mu.Lock()
	s.publishErr = err
	s.mu.Unlock()
}

func (s *fakeSession) publishedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, len(s.published))
	for i, m := range s.published {
		topics[i] = m.Topic
	}
	return topics
}

func (s *fakeSession) subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

func (s *fakeSession) opLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// fakeDialer hands out fakeSessions, failing the first failures dials.
// A negative failures value fails forever.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(_ context.Context, _ Options, inbound chan<- Message) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, errFakeDial)
	}

	s := newFakeSession(inbound)
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) sessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

// delayRecorder stands in for Client.wait. It records every requested
// pause and returns at once.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) wait(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err() == nil
}

func (r *delayRecorder) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// testOptions returns options with millisecond timings for fast tests.
func testOptions() Options {
	return Options{
		Host:             "broker.test",
		Port:             1883,
		ClientID:         "access-test",
		QoS:              1,
		ConnectTimeout:   time.Second,
		PublishTimeout:   time.Second,
		Reconnect:        true,
		MinWait:          time.Millisecond,
		MaxWait:          5 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  50 * time.Millisecond,
		BufferCapacity:   10,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu          sync.Mutex
	transitions []ConnectionState
}

func (r *stateRecorder) record(_, to ConnectionState) {
	r.mu.Lock()
	r.transitions = append(r.transitions, to)
	r.mu.Unlock()
}

func (r *stateRecorder) seen(state ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.transitions {
		if s == state {
			return true
		}
	}
	return false
}
