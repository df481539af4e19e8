package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store is the event queue surface the processor drives.
// EventStore provides the bundled gorm implementation
type Store interface {
	// FetchPending returns up to limit events that are eligible for
	// dispatch, oldest first
	FetchPending(ctx context.Context, limit int) ([]Event, error)

	// MarkProcessed marks the event as succeeded and clears any error
	// recorded by a previous attempt
	MarkProcessed(ctx context.Context, id string) error

	// MarkRetry records a failed attempt, leaving the event eligible for
	// dispatch once nextAttemptAt passes
	MarkRetry(ctx context.Context, id string, cause string, nextAttemptAt time.Time) error

	// MarkFailed records a failed attempt and takes the event out of
	// rotation permanently
	MarkFailed(ctx context.Context, id string, cause string) error
}

// ProcCfg represents processor configuration (configure using ProcOpt)
type ProcCfg struct {
	batchSize  int
	maxRetries int
	schedule   RetrySchedule
	now        func() time.Time
	logger     *slog.Logger
}

// ProcOpt represents a processor configuration option
type ProcOpt func(ProcCfg) ProcCfg

// WithBatchSize sets the maximum number of events pulled per batch run
// (default 10)
func WithBatchSize(size int) ProcOpt {
	return func(cfg ProcCfg) ProcCfg {
		cfg.batchSize = size

		return cfg
	}
}

// WithMaxRetries sets the number of failed attempts after which an event
// is marked terminally failed (default 3)
func WithMaxRetries(n int) ProcOpt {
	return func(cfg ProcCfg) ProcCfg {
		cfg.maxRetries = n

		return cfg
	}
}

// WithRetrySchedule sets the backoff schedule applied between failed
// attempts (default 15m/1h/6h)
func WithRetrySchedule(s RetrySchedule) ProcOpt {
	return func(cfg ProcCfg) ProcCfg {
		cfg.schedule = s

		return cfg
	}
}

// WithClock sets the time source used for bookkeeping timestamps
// (defaults to time.Now in UTC)
func WithClock(now func() time.Time) ProcOpt {
	return func(cfg ProcCfg) ProcCfg {
		cfg.now = now

		return cfg
	}
}

// WithLogger sets the logger used for outcome write-back failures
// (defaults to slog.Default)
func WithLogger(logger *slog.Logger) ProcOpt {
	return func(cfg ProcCfg) ProcCfg {
		cfg.logger = logger

		return cfg
	}
}

// NewProcessor constructs a Processor which pulls pending events from the
// store and dispatches each one to the agents registered for its type
func NewProcessor(store Store, registry *Registry, opts ...ProcOpt) *Processor {
	cfg := ProcCfg{
		batchSize:  10,
		maxRetries: 3,
		schedule:   DefaultRetrySchedule(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	return &Processor{
		store:    store,
		registry: registry,
		cfg:      cfg,
	}
}

// Processor implements at-least-once event dispatch with bounded retry.
// Events within a batch are processed sequentially so a single run stays
// within the invoker's time budget; agents for a single event run
// concurrently and the event succeeds only if every agent succeeds
type Processor struct {
	store    Store
	registry *Registry
	cfg      ProcCfg
}

// BatchResult summarizes a single batch run
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Results   []EventResult
}

// EventResult holds the outcome of a single event's dispatch attempt
type EventResult struct {
	EventID   string
	EventType string
	Succeeded bool
	Duration  time.Duration

	// Error holds the aggregated agent failure message for this attempt
	Error string
}

// RunBatch pulls up to BatchSize eligible events (oldest first) and
// dispatches each one. Per-event failures are recorded against the event
// and never abort the batch; the returned error is non-nil only if the
// batch itself could not be fetched, in which case no event state has
// been touched
func (p *Processor) RunBatch(ctx context.Context) (BatchResult, error) {
	started := p.cfg.now()

	evts, err := p.store.FetchPending(ctx, p.cfg.batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("dispatch: fetch pending events: %w", err)
	}

	res := BatchResult{
		Total:   len(evts),
		Results: make([]EventResult, 0, len(evts)),
	}

	for _, evt := range evts {
		er := p.process(ctx, evt)

		if er.Succeeded {
			res.Succeeded++
		} else {
			res.Failed++
		}

		res.Results = append(res.Results, er)
	}

	res.Duration = p.cfg.now().Sub(started)

	return res, nil
}

func (p *Processor) process(ctx context.Context, evt Event) EventResult {
	started := p.cfg.now()

	res := EventResult{
		EventID:   evt.ID,
		EventType: evt.Type,
	}

	err := p.fanOut(ctx, p.registry.Agents(evt.Type), evt)
	if err == nil {
		res.Succeeded = true

		if werr := p.store.MarkProcessed(ctx, evt.ID); werr != nil {
			// The event stays pending and will be re-pulled, which is
			// safe since agents are required to be idempotent
			p.cfg.logger.Error(
				"dispatch: failed to mark event processed",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"err", werr,
			)
		}

		res.Duration = p.cfg.now().Sub(started)

		return res
	}

	res.Error = err.Error()

	attempt := evt.RetryCount + 1

	if attempt >= p.cfg.maxRetries {
		if werr := p.store.MarkFailed(ctx, evt.ID, res.Error); werr != nil {
			p.cfg.logger.Error(
				"dispatch: failed to mark event terminally failed",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"err", werr,
			)
		}
	} else {
		next := p.cfg.schedule.NextAttemptAt(p.cfg.now(), attempt)

		if werr := p.store.MarkRetry(ctx, evt.ID, res.Error, next); werr != nil {
			p.cfg.logger.Error(
				"dispatch: failed to record retry",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"err", werr,
			)
		}
	}

	res.Duration = p.cfg.now().Sub(started)

	return res
}

// fanOut runs all agents concurrently against the same event and joins
// their outcomes. Every agent runs to completion regardless of how its
// peers fare - errors are aggregated rather than short-circuited so
// diagnostics name each failing agent
func (p *Processor) fanOut(ctx context.Context, agents []Agent, evt Event) error {
	if len(agents) == 0 {
		return nil
	}

	var wg sync.WaitGroup

	errs := make([]error, len(agents))

	for i, agent := range agents {
		wg.Add(1)

		go func(i int, agent Agent) {
			defer wg.Done()

			errs[i] = runAgent(ctx, agent, evt)
		}(i, agent)
	}

	wg.Wait()

	return errors.Join(errs...)
}

func runAgent(ctx context.Context, agent Agent, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s: panic: %v", agent.Name(), r)
		}
	}()

	if err := agent.Handle(ctx, evt); err != nil {
		return fmt.Errorf("agent %s: %w", agent.Name(), err)
	}

	return nil
}
