package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// PahoDialer opens sessions using paho.mqtt.golang.
type PahoDialer struct{}

// NewPahoDialer returns the production Dialer.
func NewPahoDialer() PahoDialer {
	return PahoDialer{}
}

// Dial connects to the broker described by opts.
//
// It performs the following setup:
//  1. Builds paho options (broker URL, auth, TLS, LWT), auto-reconnect off
//  2. Connects, bounded by opts.ConnectTimeout and ctx
//  3. Publishes a retained online status to access/status/{client_id}
//
// Returns:
//   - Session: Live session delivering inbound messages on inbound
//   - error: ErrConnectionFailed wrapping the cause
func (PahoDialer) Dial(ctx context.Context, opts Options, inbound chan<- Message) (Session, error) {
	pahoOpts, err := buildClientOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s := &pahoSession{
		opts:    opts,
		inbound: inbound,
		done:    make(chan struct{}),
	}

	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.end(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})

	s.client = pahomqtt.NewClient(pahoOpts)
	if err := waitToken(ctx, s.client.Connect(), opts.ConnectTimeout); err != nil {
		s.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Presence is best effort; a failure here shows up as a lost connection.
	s.client.Publish(Topics{}.DeviceStatus(opts.ClientID), 1, true, buildStatusPayload(opts.ClientID, "online", ""))

	return s, nil
}

// pahoSession adapts a connected paho client to Session.
type pahoSession struct {
	client  pahomqtt.Client
	opts    Options
	inbound chan<- Message

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *pahoSession) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	token := s.client.Publish(topic, qos, retain, payload)
	if err := waitToken(ctx, token, s.opts.PublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (s *pahoSession) Subscribe(ctx context.Context, topic string, qos byte) error {
	token := s.client.Subscribe(topic, qos, s.onMessage)
	if err := waitToken(ctx, token, s.opts.PublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (s *pahoSession) Unsubscribe(ctx context.Context, topic string) error {
	token := s.client.Unsubscribe(topic)
	if err := waitToken(ctx, token, s.opts.PublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (s *pahoSession) Done() <-chan struct{} {
	return s.done
}

func (s *pahoSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close publishes a graceful offline status and disconnects.
func (s *pahoSession) Close() {
	if s.client.IsConnected() {
		token := s.client.Publish(
			Topics{}.DeviceStatus(s.opts.ClientID), 1, true,
			buildStatusPayload(s.opts.ClientID, "offline", "graceful_shutdown"),
		)
		token.WaitTimeout(s.opts.PublishTimeout)
	}
	s.client.Disconnect(defaultDisconnectQuiesce)
	s.end(nil)
}

// onMessage forwards a paho message to the client's inbound channel.
// Payloads are copied because paho may reuse the buffer.
func (s *pahoSession) onMessage(_ pahomqtt.Client, m pahomqtt.Message) {
	msg := Message{
		Topic:   m.Topic(),
		Payload: append([]byte(nil), m.Payload()...),
	}

	select {
	case s.inbound <- msg:
	case <-s.done:
	}
}

func (s *pahoSession) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// waitToken waits for a paho token, a timeout, or ctx, whichever is first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
