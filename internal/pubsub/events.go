// Package pubsub provides a generic publish/subscribe event system.
// It carries steamcmd progress lines and log entries from the components
// doing the work to the command that invoked them.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// ProgressEvent carries a human-readable progress line (steamcmd output).
	ProgressEvent EventType = "progress"
	// LogEvent carries a formatted log entry.
	LogEvent EventType = "log"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
