package audit

import "errors"

var (
	// ErrMessageNotFound is returned when a message log ID does not exist.
	ErrMessageNotFound = errors.New("audit: message not found")

	// ErrActionRequired is returned by Create when an entry lacks an action
	// or entity type.
	ErrActionRequired = errors.New("audit: action and entity type are required")

	// ErrTopicRequired is returned when recording a message without a topic.
	ErrTopicRequired = errors.New("audit: topic is required")
)
