package router

import "errors"

// Routing errors. Both are non-fatal: the message is logged and dropped.
var (
	// ErrMalformedTopic is returned for topics with fewer than two segments.
	ErrMalformedTopic = errors.New("router: malformed topic")

	// ErrUnroutable is returned for well-formed topics that match no category.
	ErrUnroutable = errors.New("router: no route for topic")

	// ErrNoHandler is returned when a category has no registered handler.
	ErrNoHandler = errors.New("router: no handler registered")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("router: handler panicked")
)
