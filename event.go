package dispatch

import (
	"encoding/json"
	"time"
)

// Status represents the processing state of an event in the queue
type Status string

const (
	// StatusPending means the event has not yet been processed successfully
	// and is still eligible for dispatch
	StatusPending Status = "pending"

	// StatusSucceeded means every agent registered for the event's type
	// completed without error (or no agents were registered at all)
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the event exhausted its retry budget and will
	// never be dispatched again automatically
	StatusFailed Status = "failed"
)

// EventToAppend represents an event that is to be appended to the store
type EventToAppend struct {
	Type    string
	Payload any

	// Optional
	ID            string
	AggregateType string
	AggregateID   string
	Version       int
	Meta          map[string]string
	OccurredOn    time.Time
}

// Event holds a stored event along with its dispatch bookkeeping.
// Payload and Meta are opaque to the dispatcher and are passed verbatim
// to agents
type Event struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage
	Meta          map[string]string

	// Version is a monotonically assigned ordering hint for the
	// aggregate's event history. It is recorded as provided and is not
	// enforced by the dispatcher
	Version int

	Status          Status
	RetryCount      int
	ProcessingError *string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	NextAttemptAt   time.Time
}
