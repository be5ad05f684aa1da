// Package mqtt provides the resilient MQTT connection manager used by the
// access control core to talk to door controllers and card readers.
//
// This package manages:
//   - A single connection loop with capped exponential backoff
//   - A circuit breaker that throttles attempts against a dead broker
//   - A bounded FIFO outbound buffer replayed after every reconnect
//   - A subscription set restored after every reconnect
//   - Canonical access/{type}/{id}[/{action}] topic builders and parsing
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
//	Readers / Controllers ↔ MQTT Broker ↔ mqtt.Client → router.Router → device.Handler
//
// The transport sits behind the Dialer/Session interfaces. Production uses
// PahoDialer with paho's own auto-reconnect disabled; tests use an
// in-memory dialer.
//
// # State Machine
//
//	Disconnected → Connecting → Connected
//	Connected → Failed → Reconnecting → Connecting
//	Failed is terminal when reconnection is disabled or exhausted.
//	Any → Disconnected on Disconnect.
//
// On every transition into Connected the buffer is replayed first, then
// subscriptions are restored.
//
// # Delivery
//
// Publishing is at-most-once while connected and best-effort buffered while
// not. The buffer evicts its oldest entry when full and is never persisted.
// A send that fails while connected is buffered and reported with
// ErrPublishFailed; the buffered copy is authoritative.
//
// # Security Considerations
//
//   - TLS (mqtt.tls.enabled) is required for production deployments
//   - Credentials must be configured as a pair
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	opts, err := mqtt.NewOptions(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := mqtt.New(opts, nil, r.HandleMessage)
//	client.SetLogger(logger)
//	for _, topic := range mqtt.Topics{}.InboundSubscriptions() {
//	    _ = client.Subscribe(topic, 1)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
package mqtt
