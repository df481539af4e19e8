// Package ingest decodes wire events and appends them to the dispatch
// queue.
// The package is transport agnostic - see echoingest for an echo adapter
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/feedbax/dispatch"
	"github.com/relvacode/iso8601"
)

var (
	// ErrMissingType indicates that the wire event carries no type tag
	ErrMissingType = errors.New("ingest: event type is required")

	// ErrBadPayload indicates that the request body could not be decoded
	ErrBadPayload = errors.New("ingest: malformed event payload")
)

// Req is the wire representation of an incoming event
type Req struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Payload       json.RawMessage   `json:"payload"`
	Meta          map[string]string `json:"meta"`
	Version       int               `json:"version"`
	OccurredOn    string            `json:"occurred_on"`
}

// Appender is the store surface the ingest needs
type Appender interface {
	Append(ctx context.Context, events ...dispatch.EventToAppend) error
}

// New constructs a new ingest over the provided store
func New(store Appender) *Ingest {
	return &Ingest{store: store}
}

// Ingest appends incoming wire events to the queue
type Ingest struct {
	store Appender
}

// Ingest decodes data and appends the event.
// Re-delivery of an event id that has already been appended is treated as
// success - upstream producers deliver at least once and are expected to
// retry
func (i *Ingest) Ingest(ctx context.Context, data []byte) error {
	var req Req

	err := json.Unmarshal(data, &req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if req.Type == "" {
		return ErrMissingType
	}

	evt := dispatch.EventToAppend{
		ID:            req.ID,
		Type:          req.Type,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		Payload:       req.Payload,
		Meta:          req.Meta,
		Version:       req.Version,
	}

	if req.OccurredOn != "" {
		occurredOn, err := iso8601.ParseString(req.OccurredOn)
		if err != nil {
			return fmt.Errorf("%w: occurred_on: %v", ErrBadPayload, err)
		}

		evt.OccurredOn = occurredOn
	}

	err = i.store.Append(ctx, evt)
	if errors.Is(err, dispatch.ErrEventExists) {
		return nil
	}

	return err
}
