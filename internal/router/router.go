package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Defaults applied by New.
const (
	DefaultMaxConcurrent  = 64
	DefaultHandlerTimeout = 30 * time.Second
)

// Outcome labels passed to Observer.MessageProcessed.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
	OutcomeDropped = "dropped"
)

// Message is an inbound message after classification.
type Message struct {
	Topic      string
	Payload    []byte
	Category   Category
	DeviceID   string
	Segments   []string
	ReceivedAt time.Time
}

// HandlerFunc processes one classified message.
type HandlerFunc func(ctx context.Context, msg Message) error

// MessageRecorder persists every raw inbound message, routed or not.
type MessageRecorder interface {
	RecordMessage(ctx context.Context, topic string, payload []byte) error
}

// Observer receives per-message counters, typically Prometheus collectors.
type Observer interface {
	MessageReceived(category string)
	MessageProcessed(category, outcome string, duration time.Duration)
}

// Logger defines the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Router. Zero values select defaults.
type Options struct {
	MaxConcurrent  int
	HandlerTimeout time.Duration
	Recorder       MessageRecorder
	Observer       Observer
	Logger         Logger
}

// Stats is a snapshot of router counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	InFlight  int64  `json:"in_flight"`
}

// Router classifies inbound messages and dispatches them to category handlers.
//
// Each message runs on its own tracked goroutine so the MQTT receive loop is
// never blocked; a weighted semaphore bounds how many handlers execute at
// once. Handler errors and panics are logged and counted, never propagated.
//
// Thread Safety: all methods are safe for concurrent use.
type Router struct {
	handlers map[Category]HandlerFunc
	mu       sync.RWMutex

	sem      *semaphore.Weighted
	timeout  time.Duration
	recorder MessageRecorder
	observer Observer
	logger   Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing bool
	closeMu sync.RWMutex // orders wg.Add against Drain

	received  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	inFlight  atomic.Int64
}

// New creates a Router with no handlers registered.
func New(opts Options) *Router {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		handlers: make(map[Category]HandlerFunc),
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		timeout:  opts.HandlerTimeout,
		recorder: opts.Recorder,
		observer: opts.Observer,
		logger:   opts.Logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Register installs the handler for a category, replacing any previous one.
func (r *Router) Register(category Category, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[category] = handler
}

// HandleMessage is the MQTT client's inbound callback.
//
// It returns immediately; auditing, classification and the handler call
// happen on a tracked goroutine. Messages arriving after Drain has started
// are dropped.
func (r *Router) HandleMessage(topic string, payload []byte) {
	r.received.Add(1)

	r.closeMu.RLock()
	if r.closing {
		r.closeMu.RUnlock()
		r.dropped.Add(1)
		r.logger.Debug("router draining, message dropped", "topic", topic)
		return
	}
	r.wg.Add(1)
	r.closeMu.RUnlock()

	msg := Message{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now(),
	}

	r.inFlight.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inFlight.Add(-1)
		r.dispatch(msg)
	}()
}

// dispatch runs on its own goroutine for every message.
func (r *Router) dispatch(msg Message) {
	if err := r.sem.Acquire(r.baseCtx, 1); err != nil {
		r.dropped.Add(1)
		r.logger.Warn("router stopped before dispatch", "topic", msg.Topic)
		return
	}
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(r.baseCtx, r.timeout)
	defer cancel()

	// Audit first so unroutable traffic is still recorded.
	if r.recorder != nil {
		if err := r.recorder.RecordMessage(ctx, msg.Topic, msg.Payload); err != nil {
			r.logger.Warn("failed to record inbound message", "topic", msg.Topic, "error", err)
		}
	}

	class, err := Classify(msg.Topic)
	msg.Category = class.Category
	msg.DeviceID = class.DeviceID
	msg.Segments = class.Segments
	r.observeReceived(msg.Category)

	if err != nil {
		r.dropped.Add(1)
		if errors.Is(err, ErrMalformedTopic) {
			r.logger.Warn("malformed topic dropped", "topic", msg.Topic)
		} else {
			r.logger.Debug("unrouted topic dropped", "topic", msg.Topic)
		}
		r.observeProcessed(msg.Category, OutcomeDropped, 0)
		return
	}

	r.mu.RLock()
	handler := r.handlers[msg.Category]
	r.mu.RUnlock()
	if handler == nil {
		r.dropped.Add(1)
		r.logger.Debug("no handler for category", "topic", msg.Topic, "category", msg.Category.String())
		r.observeProcessed(msg.Category, OutcomeDropped, 0)
		return
	}

	start := time.Now()
	err = r.invoke(ctx, handler, msg)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, ErrHandlerPanic):
		r.failed.Add(1)
		r.logger.Error("handler panicked", "topic", msg.Topic, "category", msg.Category.String(), "error", err)
		r.observeProcessed(msg.Category, OutcomePanic, elapsed)
	case err != nil:
		r.failed.Add(1)
		r.logger.Error("handler failed", "topic", msg.Topic, "category", msg.Category.String(), "error", err)
		r.observeProcessed(msg.Category, OutcomeError, elapsed)
	default:
		r.processed.Add(1)
		r.observeProcessed(msg.Category, OutcomeOK, elapsed)
	}
}

// invoke calls the handler and converts a panic into ErrHandlerPanic.
func (r *Router) invoke(ctx context.Context, handler HandlerFunc, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("handler panic stack", "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return handler(ctx, msg)
}

func (r *Router) observeReceived(c Category) {
	if r.observer != nil {
		r.observer.MessageReceived(c.String())
	}
}

func (r *Router) observeProcessed(c Category, outcome string, d time.Duration) {
	if r.observer != nil {
		r.observer.MessageProcessed(c.String(), outcome, d)
	}
}

// Drain stops accepting messages and waits for in-flight handlers.
//
// If ctx expires first the shared handler context is cancelled and
// ctx.Err() is returned; handlers are not forcibly killed.
func (r *Router) Drain(ctx context.Context) error {
	r.closeMu.Lock()
	r.closing = true
	r.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn("router drain deadline reached", "in_flight", r.inFlight.Load())
		return ctx.Err()
	}
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
		InFlight:  r.inFlight.Load(),
	}
}
