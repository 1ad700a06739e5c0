// Package pubsub provides a generic publish/subscribe event system used to fan
// execution events and log lines out to CLI watchers and SSE clients.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// StartedEvent is published when an execution is admitted.
	StartedEvent EventType = "execution.started"
	// CompletedEvent is published once a result has been constructed.
	CompletedEvent EventType = "execution.completed"
	// RejectedEvent is published when a request fails validation.
	RejectedEvent EventType = "execution.rejected"
	// LogEvent carries a formatted log line.
	LogEvent EventType = "log"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
// The returned func releases the subscription early; it is safe to call more than once.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) (<-chan Event[T], func())
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
