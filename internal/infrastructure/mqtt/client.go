package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// inboundQueueSize is the capacity of the channel between the transport
// and the connection loop.
const inboundQueueSize = 256

// breakerPollFloor is the shortest sleep while the breaker is open.
const breakerPollFloor = 10 * time.Millisecond

// Client is a resilient MQTT connection manager.
//
// A single background loop owns the connection: it dials, replays the
// outbound buffer, restores subscriptions, forwards inbound messages to the
// InboundHandler, and reconnects with capped exponential backoff gated by
// a circuit breaker. Publishes made while offline are buffered and replayed
// in order on the next connection.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - The subscription set, outbound buffer, breaker and session handle
//     each have their own lock; there is no global lock on the publish path.
type Client struct {
	opts    Options
	dialer  Dialer
	handler InboundHandler

	breaker *CircuitBreaker
	buffer  *OutboundBuffer
	inbound chan Message

	// subscriptions maps topic filter to QoS and survives reconnects.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	// session is the live transport, nil when not connected.
	session Session
	sessMu  sync.RWMutex

	state          ConnectionState
	connectedSince time.Time
	lastErr        error
	stateMu        sync.RWMutex

	stats counters

	// wait pauses the loop between attempts; tests substitute it.
	wait func(ctx context.Context, d time.Duration) bool

	// recoveries counts completed replay-and-restore passes.
	recoveries atomic.Uint64

	// lifecycle
	lifeMu    sync.Mutex
	cancel    context.CancelFunc
	closed    bool
	done      chan struct{}
	monitorWG sync.WaitGroup

	onStateChange func(from, to ConnectionState)
	statsObserver func(ConnectionStats)
	callbackMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// InboundHandler receives every inbound message.
//
// It is called on the connection loop goroutine, so it must hand work off
// quickly (router.Router.HandleMessage does). Panics are recovered.
type InboundHandler func(topic string, payload []byte)

// counters are cumulative and survive Disconnect.
type counters struct {
	messagesSent      atomic.Uint64
	messagesReceived  atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	publishFailures   atomic.Uint64
	bufferedTotal     atomic.Uint64
	bufferEvictions   atomic.Uint64
	reconnectAttempts atomic.Uint64
}

// New creates a Client. It does not connect; call Start or Run.
//
// Parameters:
//   - opts: Resolved options from NewOptions
//   - dialer: Transport; nil selects the paho dialer
//   - handler: Inbound callback; nil drops inbound messages after counting
//
// Returns:
//   - *Client: Client in StateDisconnected
func New(opts Options, dialer Dialer, handler InboundHandler) *Client {
	if dialer == nil {
		dialer = NewPahoDialer()
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}

	return &Client{
		opts:          opts,
		dialer:        dialer,
		handler:       handler,
		breaker:       NewCircuitBreaker(),
		buffer:        NewOutboundBuffer(opts.BufferCapacity),
		inbound:       make(chan Message, inboundQueueSize),
		subscriptions: make(map[string]byte),
		state:         StateDisconnected,
		done:          make(chan struct{}),
		wait:          sleepContext,
	}
}

// Start launches the connection loop and returns immediately.
//
// The loop runs until ctx is cancelled, Disconnect is called, or
// reconnection gives up. Start may be called once.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(loopCtx)

	if c.opts.HealthCheckInterval > 0 {
		c.monitorWG.Add(1)
		go c.monitor(loopCtx)
	}

	return nil
}

// Run starts the connection loop and blocks until it exits.
//
// Returns:
//   - error: The terminal error when the loop ended in StateFailed, else nil
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-c.done
	return c.Err()
}

// Done is closed when the connection loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error if the client is in StateFailed.
func (c *Client) Err() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.state != StateFailed {
		return nil
	}
	return c.lastErr
}

// run is the connection loop. It is the only writer of state while running.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	// attempts counts every dial for the life of the client and drives
	// backoff growth. consecutive counts failures since the last successful
	// connection and only drives MaxAttempts.
	attempts, consecutive := 0, 0

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return
		}

		if !c.breaker.CanAttempt(c.opts.BreakerCooldown) {
			pause := max(c.breaker.remaining(c.opts.BreakerCooldown), breakerPollFloor)
			c.log().Debug("MQTT circuit breaker open, waiting", "wait", pause)
			if !c.wait(ctx, pause) {
				c.setState(StateFailed, ErrCircuitOpen)
				return
			}
			continue
		}

		c.setState(StateConnecting, nil)
		attempts++
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected, nil)
			return
		}

		if connected {
			consecutive = 0
		}
		consecutive++
		c.stats.reconnectAttempts.Add(1)

		c.breaker.RecordFailure(c.opts.BreakerThreshold)
		c.setState(StateFailed, err)
		c.log().Warn("MQTT connection failed",
			"broker", c.opts.BrokerURL(),
			"error", err,
			"consecutive_failures", consecutive,
		)

		if !c.opts.Reconnect {
			c.log().Error("MQTT reconnection disabled, giving up", "error", err)
			return
		}
		if c.opts.MaxAttempts > 0 && consecutive >= c.opts.MaxAttempts {
			c.setState(StateFailed, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, consecutive, err))
			c.log().Error("MQTT reconnect attempts exhausted", "attempts", consecutive)
			return
		}
		if c.breaker.Snapshot().IsOpen {
			// The breaker gates the next attempt at the top of the loop.
			continue
		}

		c.setState(StateReconnecting, nil)
		delay := backoffDelay(attempts, c.opts.MinWait, c.opts.MaxWait)
		c.log().Info("MQTT reconnecting", "delay", delay, "attempt", attempts, "consecutive_failures", consecutive)
		if !c.wait(ctx, delay) {
			c.setState(StateDisconnected, nil)
			return
		}
	}
}

// connectAndServe dials, runs the post-connect recovery steps, and then
// forwards inbound messages until the session ends or ctx is cancelled.
// connected reports whether the handshake succeeded.
func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	sess, err := c.dialer.Dial(dialCtx, c.opts, c.inbound)
	cancel()
	if err != nil {
		return false, err
	}

	c.setSession(sess)
	defer c.setSession(nil)

	c.breaker.RecordSuccess()
	c.setState(StateConnected, nil)
	c.log().Info("MQTT connected", "broker", c.opts.BrokerURL(), "client_id", c.opts.ClientID)

	// Outbound first, then resume inbound.
	c.replayBuffer(ctx, sess)
	c.restoreSubscriptions(ctx, sess)
	c.recoveries.Add(1)

	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return true, nil
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				return true, err
			}
			return true, ErrConnectionLost
		case msg := <-c.inbound:
			c.deliver(msg)
		}
	}
}

// replayBuffer publishes every buffered message in FIFO order. Messages
// that fail are requeued for the next connection.
func (c *Client) replayBuffer(ctx context.Context, sess Session) {
	pending := c.buffer.Drain()
	if len(pending) == 0 {
		return
	}

	c.log().Info("Replaying buffered MQTT messages", "count", len(pending))

	replayed := 0
	for i, msg := range pending {
		pubCtx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
		err := sess.Publish(pubCtx, msg.Topic, msg.Payload, msg.QoS, msg.Retain)
		cancel()

		if err == nil {
			replayed++
			c.stats.messagesSent.Add(1)
			c.stats.bytesSent.Add(uint64(len(msg.Payload)))
			continue
		}

		c.stats.publishFailures.Add(1)
		c.buffer.push(msg)

		if sessionEnded(sess) || ctx.Err() != nil {
			for _, rest := range pending[i+1:] {
				c.buffer.push(rest)
			}
			c.log().Warn("MQTT replay interrupted, remaining messages requeued",
				"replayed", replayed,
				"requeued", len(pending)-replayed,
			)
			return
		}

		c.log().Warn("MQTT replay publish failed, requeued", "topic", msg.Topic, "error", err)
	}

	c.log().Info("MQTT buffer replay complete", "replayed", replayed, "requeued", len(pending)-replayed)
}

// restoreSubscriptions re-issues every recorded filter on a new session.
// Failures are logged and left for the next reconnect.
func (c *Client) restoreSubscriptions(ctx context.Context, sess Session) {
	subs := c.subscriptionSnapshot()
	failed := 0
	for _, sub := range subs {
		subCtx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
		err := sess.Subscribe(subCtx, sub.filter, sub.qos)
		cancel()
		if err != nil {
			failed++
			c.log().Warn("MQTT subscription restore failed", "filter", sub.filter, "error", err)
		}
	}

	if len(subs) > 0 {
		c.log().Debug("MQTT subscriptions restored", "count", len(subs)-failed, "failed", failed)
	}
}

// deliver counts a message and hands it to the inbound handler.
func (c *Client) deliver(msg Message) {
	c.stats.messagesReceived.Add(1)
	c.stats.bytesReceived.Add(uint64(len(msg.Payload)))

	if c.handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log().Error("MQTT inbound handler panic recovered",
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()

	c.handler(msg.Topic, msg.Payload)
}

// Disconnect stops the connection loop and clears ephemeral state.
//
// It is idempotent. It waits for the loop to exit, then clears the
// subscription set and the outbound buffer. Cumulative counters are kept
// for diagnostics. In-flight inbound handlers are not awaited here; the
// router owning them exposes its own Drain.
func (c *Client) Disconnect() {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		<-c.done
		c.monitorWG.Wait()
	}

	c.subMu.Lock()
	c.subscriptions = make(map[string]byte)
	c.subMu.Unlock()

	c.buffer.Clear()
	c.setState(StateDisconnected, nil)

	c.log().Info("MQTT client disconnected")
}

// HealthCheck verifies the MQTT connection is alive.
//
// Returns:
//   - error: nil if connected, ErrNotConnected (with state) otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, c.State())
	}

	return nil
}

// IsConnected reports whether a session is live.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected && c.currentSession() != nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// SetOnStateChange sets a callback invoked after every state transition.
// It runs on the goroutine making the transition and must not block.
func (c *Client) SetOnStateChange(callback func(from, to ConnectionState)) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetStatsObserver sets a callback invoked with a stats snapshot every
// HealthCheckInterval while the loop runs.
func (c *Client) SetStatsObserver(observer func(ConnectionStats)) {
	c.callbackMu.Lock()
	c.statsObserver = observer
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection lifecycle and handler errors.
// If not set, logging is discarded.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// log returns the current logger, or a no-op logger.
func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return nopLogger{}
	}
	return c.logger
}

func (c *Client) setState(to ConnectionState, err error) {
	c.stateMu.Lock()
	from := c.state
	c.state = to
	switch {
	case to == StateConnected:
		c.connectedSince = time.Now()
		c.lastErr = nil
	case err != nil:
		c.lastErr = err
	}
	c.stateMu.Unlock()

	if from == to {
		return
	}

	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(from, to)
	}
}

func (c *Client) setSession(s Session) {
	c.sessMu.Lock()
	c.session = s
	c.sessMu.Unlock()
}

func (c *Client) currentSession() Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.session
}

// monitor reports stats on every health check tick.
func (c *Client) monitor(ctx context.Context) {
	defer c.monitorWG.Done()

	ticker := time.NewTicker(c.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.callbackMu.RLock()
			observer := c.statsObserver
			c.callbackMu.RUnlock()
			if observer != nil {
				observer(c.Stats())
			}
		}
	}
}

func sessionEnded(s Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
