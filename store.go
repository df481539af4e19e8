// Package dispatch provides a polling-friendly, at-least-once event
// dispatcher with bounded retry.
// Events are appended to a durable queue backed by sqlite or postgres,
// pulled in creation order and fanned out to the agents registered for
// their type. Alongside the processor, a long-running Runner and an HTTP
// cron trigger are provided for push-assisted and scheduler-driven hosting
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	uuid2 "github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	// ErrEventExists indicates that an event with the same id has already
	// been appended. Upstream producers re-delivering the same event can
	// treat this as success
	ErrEventExists = errors.New("dispatch: event already exists")

	// ErrEventNotFound indicates that the requested event does not exist
	// in the store
	ErrEventNotFound = errors.New("dispatch: event not found")
)

// NewStore constructs a new event store
// Configure the backing database using WithSQLiteDB or WithPostgresDB
func NewStore(opts ...Option) (*EventStore, error) {
	var cfg Cfg

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.PostgresDSN == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("either postgres dsn or sqlite path must be provided")
	}

	var dial gorm.Dialector

	if cfg.PostgresDSN != "" {
		dial = postgres.Open(cfg.PostgresDSN)
	}

	if cfg.SQLitePath != "" {
		dial = sqlite.Open(cfg.SQLitePath)
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return &EventStore{
		db:       db,
		appended: make(chan struct{}, 1),
	}, db.AutoMigrate(&gormEvent{})
}

// Cfg represents event store configuration
type Cfg struct {
	PostgresDSN string
	SQLitePath  string
}

// Option represents an event store configuration option
type Option func(Cfg) Cfg

// WithPostgresDB is an event store option that can be used to configure
// the store to use postgres as a backing storage (pgx driver)
func WithPostgresDB(dsn string) Option {
	return func(cfg Cfg) Cfg {
		cfg.PostgresDSN = dsn

		return cfg
	}
}

// WithSQLiteDB is an event store option that can be used to configure
// the store to use sqlite as a backing storage
func WithSQLiteDB(path string) Option {
	return func(cfg Cfg) Cfg {
		cfg.SQLitePath = path

		return cfg
	}
}

// EventStore is a gorm backed event queue
type EventStore struct {
	db       *gorm.DB
	appended chan struct{}
}

// Close should be called as a part of cleanup process
// in order to close the underlying sql connection
func (es *EventStore) Close() error {
	sqlDB, err := es.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

type gormEvent struct {
	ID              string `gorm:"primaryKey"`
	Type            string `gorm:"index"`
	AggregateType   string
	AggregateID     string `gorm:"index"`
	Payload         string
	Meta            *string
	Version         int
	Status          string `gorm:"index:idx_eligible"`
	RetryCount      int
	ProcessingError *string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	NextAttemptAt   time.Time `gorm:"index:idx_eligible"`
}

// TableName returns gorm table name
func (ge *gormEvent) TableName() string { return "event" }

// Appended signals that new events may be pending.
// A Runner can select on this channel to dispatch freshly appended events
// without waiting for the next poll tick. The signal is best effort and
// coalesced - a missed signal is always covered by the poll interval
func (es *EventStore) Appended() <-chan struct{} {
	return es.appended
}

// Append appends the provided events to the queue in pending state.
// Events with no id get a v7 uuid assigned; appending an event whose id
// already exists yields ErrEventExists
func (es *EventStore) Append(ctx context.Context, events ...EventToAppend) error {
	if len(events) == 0 {
		return nil
	}

	eventsToSave := make([]gormEvent, len(events))

	for i, evt := range events {
		if evt.Type == "" {
			return fmt.Errorf("event type must be provided")
		}

		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return err
		}

		event := gormEvent{
			ID:            evt.ID,
			Type:          evt.Type,
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			Payload:       string(payload),
			Version:       evt.Version,
			Status:        string(StatusPending),
			CreatedAt:     evt.OccurredOn,
		}

		if evt.Meta != nil {
			m, err := json.Marshal(evt.Meta)
			if err != nil {
				return err
			}

			ms := string(m)

			event.Meta = &ms
		}

		if event.ID == "" {
			uuid, err := uuid2.NewV7()
			if err != nil {
				return err
			}

			event.ID = uuid.String()
		}

		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}

		// Eligible for dispatch immediately
		event.NextAttemptAt = event.CreatedAt

		eventsToSave[i] = event
	}

	tx := es.db.WithContext(ctx).Create(&eventsToSave)

	err := tx.Error

	// TODO - this is a bit of a hack - we should probably check for the error code or smth
	// check postgres also
	if e, ok := err.(sqlite3.Error); ok && e.Code == 19 {
		return ErrEventExists
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEventExists
	}

	if err != nil {
		return err
	}

	select {
	case es.appended <- struct{}{}:
	default:
	}

	return nil
}

// FetchPending returns up to limit pending events whose next attempt time
// has passed, ordered by creation time ascending (oldest first).
// Terminally failed events are never returned
func (es *EventStore) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit should be at least 1")
	}

	var evts []gormEvent

	err := es.db.
		WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", string(StatusPending), time.Now().UTC()).
		Order("created_at asc").
		Limit(limit).
		Find(&evts).Error
	if err != nil {
		return nil, err
	}

	return decodeEvents(evts)
}

// ByID fetches a single event by its id, terminally failed ones included,
// so an operator can inspect the retained processing error
func (es *EventStore) ByID(ctx context.Context, id string) (Event, error) {
	var evt gormEvent

	err := es.db.WithContext(ctx).First(&evt, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Event{}, ErrEventNotFound
		}

		return Event{}, err
	}

	return decodeEvent(evt)
}

// MarkProcessed marks the event as succeeded, stamps the processing time
// and clears any error left behind by previous attempts
func (es *EventStore) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now().UTC()

	return es.update(ctx, id, map[string]any{
		"status":           string(StatusSucceeded),
		"processed_at":     &now,
		"processing_error": nil,
	})
}

// MarkRetry increments the event's retry count and schedules its next
// attempt. The event stays pending and will be pulled again once
// nextAttemptAt passes
func (es *EventStore) MarkRetry(ctx context.Context, id string, cause string, nextAttemptAt time.Time) error {
	return es.update(ctx, id, map[string]any{
		"retry_count":      gorm.Expr("retry_count + 1"),
		"processing_error": &cause,
		"next_attempt_at":  nextAttemptAt.UTC(),
	})
}

// MarkFailed increments the event's retry count and marks it terminally
// failed, retaining the last failure message for operator inspection
func (es *EventStore) MarkFailed(ctx context.Context, id string, cause string) error {
	return es.update(ctx, id, map[string]any{
		"status":           string(StatusFailed),
		"retry_count":      gorm.Expr("retry_count + 1"),
		"processing_error": &cause,
	})
}

func (es *EventStore) update(ctx context.Context, id string, values map[string]any) error {
	tx := es.db.
		WithContext(ctx).
		Model(&gormEvent{}).
		Where("id = ?", id).
		Updates(values)
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrEventNotFound
	}

	return nil
}

func decodeEvents(evts []gormEvent) ([]Event, error) {
	out := make([]Event, 0, len(evts))

	for _, evt := range evts {
		decoded, err := decodeEvent(evt)
		if err != nil {
			return nil, err
		}

		out = append(out, decoded)
	}

	return out, nil
}

func decodeEvent(evt gormEvent) (Event, error) {
	var meta map[string]string

	if evt.Meta != nil {
		err := json.Unmarshal([]byte(*evt.Meta), &meta)
		if err != nil {
			return Event{}, err
		}
	}

	return Event{
		ID:              evt.ID,
		Type:            evt.Type,
		AggregateType:   evt.AggregateType,
		AggregateID:     evt.AggregateID,
		Payload:         json.RawMessage(evt.Payload),
		Meta:            meta,
		Version:         evt.Version,
		Status:          Status(evt.Status),
		RetryCount:      evt.RetryCount,
		ProcessingError: evt.ProcessingError,
		CreatedAt:       evt.CreatedAt,
		ProcessedAt:     evt.ProcessedAt,
		NextAttemptAt:   evt.NextAttemptAt,
	}, nil
}
