package mqtt

import "context"

// Message is an inbound message delivered by a Session.
type Message struct {
	Topic   string
	Payload []byte
}

// Dialer opens broker sessions.
//
// The Client calls Dial once per connection attempt. A successful Dial
// returns a live Session that delivers inbound messages on the given
// channel until the session ends.
type Dialer interface {
	Dial(ctx context.Context, opts Options, inbound chan<- Message) (Session, error)
}

// Session is one live broker connection.
//
// Publish, Subscribe and Unsubscribe may be called from any goroutine.
// Done is closed when the session ends for any reason; Err then reports
// why (nil after Close).
type Session interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Subscribe(ctx context.Context, topic string, qos byte) error
	Unsubscribe(ctx context.Context, topic string) error
	Done() <-chan struct{}
	Err() error
	Close()
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, opts Options, inbound chan<- Message) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts Options, inbound chan<- Message) (Session, error) {
	return f(ctx, opts, inbound)
}
