package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedbax/dispatch"
	"github.com/feedbax/dispatch/ingest"
	"github.com/stretchr/testify/assert"
)

type appender struct {
	wantErr error
	evts    []dispatch.EventToAppend
}

func (a *appender) Append(_ context.Context, events ...dispatch.EventToAppend) error {
	a.evts = append(a.evts, events...)

	return a.wantErr
}

var testEvent = `{
	"id": "evt-1",
	"type": "feedback.created",
	"aggregate_type": "post",
	"aggregate_id": "post-1",
	"version": 1,
	"payload": {"post_id": "post-1", "title": "Dark mode please"},
	"meta": {"project_id": "proj-1"},
	"occurred_on": "2024-05-01T12:00:00Z"
}`

func TestShould_Append_Decoded_Event(t *testing.T) {
	var a appender

	err := ingest.New(&a).Ingest(context.Background(), []byte(testEvent))

	assert.NoError(t, err)
	assert.Len(t, a.evts, 1)

	evt := a.evts[0]

	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, "feedback.created", evt.Type)
	assert.Equal(t, "post", evt.AggregateType)
	assert.Equal(t, "post-1", evt.AggregateID)
	assert.Equal(t, 1, evt.Version)
	assert.Equal(t, map[string]string{"project_id": "proj-1"}, evt.Meta)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), evt.OccurredOn.UTC())
}

func TestShould_Reject_Malformed_Body(t *testing.T) {
	var a appender

	err := ingest.New(&a).Ingest(context.Background(), []byte(`{not json`))

	assert.ErrorIs(t, err, ingest.ErrBadPayload)
	assert.Empty(t, a.evts)
}

func TestShould_Reject_Missing_Type(t *testing.T) {
	var a appender

	err := ingest.New(&a).Ingest(context.Background(), []byte(`{"payload": {}}`))

	assert.ErrorIs(t, err, ingest.ErrMissingType)
	assert.Empty(t, a.evts)
}

func TestShould_Reject_Bad_Timestamp(t *testing.T) {
	var a appender

	err := ingest.New(&a).Ingest(
		context.Background(),
		[]byte(`{"type": "feedback.created", "occurred_on": "yesterday-ish"}`),
	)

	assert.ErrorIs(t, err, ingest.ErrBadPayload)
	assert.Empty(t, a.evts)
}

func TestShould_Treat_Duplicate_Delivery_As_Success(t *testing.T) {
	a := appender{
		wantErr: dispatch.ErrEventExists,
	}

	err := ingest.New(&a).Ingest(context.Background(), []byte(testEvent))

	assert.NoError(t, err)
}

func TestShould_Propagate_Store_Failure(t *testing.T) {
	a := appender{
		wantErr: errors.New("connection refused"),
	}

	err := ingest.New(&a).Ingest(context.Background(), []byte(testEvent))

	assert.Error(t, err)
}
