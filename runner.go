package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BatchRunner is the batch-running surface a Runner (or an HTTP trigger)
// drives. Processor implements it
type BatchRunner interface {
	RunBatch(ctx context.Context) (BatchResult, error)
}

// RunnerOpt represents a runner configuration option
type RunnerOpt func(*Runner)

// WithPollInterval sets the interval at which the runner polls for
// pending events (default 30s). The poll also acts as the at-least-once
// backstop for missed wake signals and for events whose backoff expires
func WithPollInterval(d time.Duration) RunnerOpt {
	return func(r *Runner) {
		r.interval = d
	}
}

// WithWake provides a channel that wakes the runner ahead of the next
// poll tick, typically EventStore.Appended
func WithWake(ch <-chan struct{}) RunnerOpt {
	return func(r *Runner) {
		r.wake = ch
	}
}

// WithRunnerLogger sets the runner's logger (defaults to slog.Default)
func WithRunnerLogger(logger *slog.Logger) RunnerOpt {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner constructs a Runner which drives the batch runner from a
// long-running process, replacing an external cron scheduler
func NewRunner(br BatchRunner, opts ...RunnerOpt) *Runner {
	r := &Runner{
		br:       br,
		interval: 30 * time.Second,
		done:     make(chan struct{}),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Runner owns the dispatch loop of a long-running process: it runs batches
// on a fixed poll interval and, when wired to EventStore.Appended, as soon
// as new events arrive. Each wake drains the queue by running batches back
// to back until one comes up empty.
//
// A Runner never overlaps its own batches. Exclusion across processes is
// not provided - run a single Runner per queue, or rely on agent
// idempotence if more than one can race
type Runner struct {
	br       BatchRunner
	interval time.Duration
	wake     <-chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// Start launches the dispatch loop in a background goroutine
func (r *Runner) Start() {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.logger.Info("dispatch: runner started", "poll_interval", r.interval)

		for {
			select {
			case <-r.done:
				r.logger.Info("dispatch: runner stopped")

				return
			case <-ticker.C:
				r.drain()
			case <-r.wake:
				r.drain()
			}
		}
	}()
}

// Stop halts the loop and blocks until the in-flight batch (if any)
// has finished
func (r *Runner) Stop() {
	close(r.done)
	r.wg.Wait()
}

// drain runs batches back to back until the queue comes up empty or the
// runner is stopped
func (r *Runner) drain() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		res, err := r.br.RunBatch(context.Background())
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Error("dispatch: batch run failed", "err", err)
			}

			return
		}

		if res.Failed > 0 {
			r.logger.Warn(
				"dispatch: batch completed with failures",
				"total", res.Total,
				"succeeded", res.Succeeded,
				"failed", res.Failed,
			)
		}

		if res.Total == 0 {
			return
		}
	}
}
