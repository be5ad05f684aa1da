package mqtt

import (
	"sync"
	"time"
)

// BufferedMessage is an outbound publish waiting for a live session.
// Entries are never modified after they are enqueued.
type BufferedMessage struct {
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	QoS        byte      `json:"qos"`
	Retain     bool      `json:"retain"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OutboundBuffer is a bounded FIFO of BufferedMessage.
//
// When full, Add evicts the oldest entry. The buffer is held in memory
// only: under a long outage it sheds the oldest traffic rather than grow.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type OutboundBuffer struct {
	mu       sync.Mutex
	items    []BufferedMessage
	capacity int
}

// NewOutboundBuffer returns an empty buffer. Capacities below 1 become 1.
func NewOutboundBuffer(capacity int) *OutboundBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &OutboundBuffer{
		items:    make([]BufferedMessage, 0, capacity),
		capacity: capacity,
	}
}

// Add enqueues a message, evicting the oldest entry when at capacity.
// The payload is copied. It reports whether an entry was evicted.
func (b *OutboundBuffer) Add(topic string, payload []byte, qos byte, retain bool) bool {
	return b.push(BufferedMessage{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		QoS:        qos,
		Retain:     retain,
		EnqueuedAt: time.Now(),
	})
}

// push enqueues an existing entry unchanged. Replay uses it to requeue.
func (b *OutboundBuffer) push(msg BufferedMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.items) >= b.capacity {
		// Shift rather than reslice so the backing array does not creep.
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
		evicted = true
	}
	b.items = append(b.items, msg)
	return evicted
}

// Drain returns every entry in enqueue order and empties the buffer.
func (b *OutboundBuffer) Drain() []BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.items
	b.items = make([]BufferedMessage, 0, b.capacity)
	return out
}

// Clear discards all entries.
func (b *OutboundBuffer) Clear() {
	b.mu.Lock()
	b.items = make([]BufferedMessage, 0, b.capacity)
	b.mu.Unlock()
}

// Len returns the number of buffered entries.
func (b *OutboundBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Capacity returns the maximum number of entries.
func (b *OutboundBuffer) Capacity() int {
	return b.capacity
}
