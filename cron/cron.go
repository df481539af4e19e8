// Package cron exposes the event processor to an external scheduler as a
// shared-secret protected trigger.
// The package is transport agnostic - see echocron for an echo adapter
package cron

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/feedbax/dispatch"
)

// ErrUnauthorized indicates that the presented trigger secret is missing
// or does not match
var ErrUnauthorized = errors.New("cron: invalid trigger secret")

// Runner is the batch-running surface the trigger drives
type Runner interface {
	RunBatch(ctx context.Context) (dispatch.BatchResult, error)
}

// New constructs a new cron trigger.
// secret is the shared secret the scheduler must present on every
// invocation
func New(runner Runner, secret string) *Trigger {
	return &Trigger{
		runner: runner,
		secret: secret,
	}
}

// Trigger runs a single batch per invocation on behalf of an external
// scheduler. The scheduler is assumed not to overlap invocations - the
// trigger itself does not serialize concurrent runs
type Trigger struct {
	runner Runner
	secret string
}

// Resp is the trigger response enumerating per-event outcomes so an
// operator can diagnose a run without additional logging
type Resp struct {
	Success bool     `json:"success"`
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

// Summary holds the batch totals
type Summary struct {
	Total           int   `json:"total"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	TotalDurationMS int64 `json:"totalDuration"`
}

// Result holds a single event's outcome
type Result struct {
	EventID    string `json:"eventId"`
	EventType  string `json:"eventType"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration"`
	Error      string `json:"error,omitempty"`
}

// Run verifies the presented secret and runs one batch.
// It returns ErrUnauthorized on a secret mismatch and the underlying
// fetch error if the batch could not be pulled; per-event failures are
// reported in the response, not as an error
func (t *Trigger) Run(ctx context.Context, secret string) (*Resp, error) {
	if t.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(t.secret)) != 1 {
		return nil, ErrUnauthorized
	}

	res, err := t.runner.RunBatch(ctx)
	if err != nil {
		return nil, err
	}

	resp := Resp{
		Success: res.Failed == 0,
		Summary: Summary{
			Total:           res.Total,
			Succeeded:       res.Succeeded,
			Failed:          res.Failed,
			TotalDurationMS: res.Duration.Milliseconds(),
		},
		Results: make([]Result, 0, len(res.Results)),
	}

	for _, r := range res.Results {
		resp.Results = append(resp.Results, Result{
			EventID:    r.EventID,
			EventType:  r.EventType,
			Success:    r.Succeeded,
			DurationMS: r.Duration.Milliseconds(),
			Error:      r.Error,
		})
	}

	return &resp, nil
}
