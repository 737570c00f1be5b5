// Package task drives long-running DSM operations (search, delete, move) that
// the backend executes asynchronously: start, poll at a fixed interval until
// finished or timed out, and always attempt to stop the backend task.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/synology-mcp/internal/adapters/realclock"
	"github.com/acolita/synology-mcp/internal/ports"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

// Default policy values.
const (
	DefaultInterval      = 500 * time.Millisecond
	DefaultMoveTimeout   = 60 * time.Second
	DefaultDeleteTimeout = 120 * time.Second
	// DefaultSearchTimeout of zero polls until the search finishes.
	DefaultSearchTimeout time.Duration = 0

	stopTimeout = 10 * time.Second
)

// Semantics selects how status responses are interpreted.
type Semantics int

const (
	// StatusMethod polls a dedicated status method. An error member in a
	// finished status fails the task.
	StatusMethod Semantics = iota
	// ListAsStatus polls a listing method that doubles as status and
	// carries the results; used where the status method was retired.
	ListAsStatus
)

// Outcome is the terminal state of a task handle.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
)

// Job describes one asynchronous operation.
type Job struct {
	// Kind names the operation, e.g. "search", "delete" or "move".
	Kind      string
	Start     synoapi.Descriptor
	Status    func(taskID string) synoapi.Descriptor
	Stop      func(taskID string) synoapi.Descriptor
	Semantics Semantics
	// Interval between polls; zero means DefaultInterval.
	Interval time.Duration
	// Timeout bounds the polling; zero polls until finished.
	Timeout time.Duration
}

// Handle is a backend-side task in progress or finished.
type Handle struct {
	ID        string
	Kind      string
	StartedAt time.Time
	Outcome   Outcome
	// StopErr is the result of the stop attempt. It is never returned as
	// the primary error.
	StopErr error
}

// Result is a completed task.
type Result struct {
	Handle *Handle
	// Data is the last status payload, the one flagged finished.
	Data    json.RawMessage
	Polls   int
	Elapsed time.Duration
}

// Driver runs Specs against a Caller.
type Driver struct {
	caller synoapi.Caller
	clock  ports.Clock
	logger *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock used for poll spacing and timeouts.
func WithClock(clock ports.Clock) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates a driver issuing calls through caller.
func NewDriver(caller synoapi.Caller, opts ...Option) *Driver {
	d := &Driver{
		caller: caller,
		clock:  realclock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type status struct {
	Finished bool            `json:"finished"`
	Error    json.RawMessage `json:"error"`
}

// Run starts the task and polls it to a terminal state. Once a task id has
// been obtained, exactly one stop is attempted on every exit path, including
// cancellation of ctx; the stop outcome is logged and never replaces the
// primary result.
func (d *Driver) Run(ctx context.Context, job Job) (*Result, error) {
	interval := job.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	started, err := d.caller.Call(ctx, job.Start)
	if err != nil {
		return nil, fmt.Errorf("start %s task: %w", job.Kind, err)
	}
	id := taskID(started)
	if id == "" {
		return nil, &synoapi.Error{
			Kind:   synoapi.KindTaskStartFailed,
			Op:     job.Start.Op(),
			Detail: fmt.Sprintf("%s task start returned no task id", job.Kind),
		}
	}

	h := &Handle{ID: id, Kind: job.Kind, StartedAt: d.clock.Now(), Outcome: OutcomeRunning}
	log := d.logger.With(slog.String("task_kind", job.Kind), slog.String("task_id", id))
	log.Debug("task started")

	defer d.stop(ctx, job, h, log)

	polls := 0
	for {
		data, err := d.caller.Call(ctx, job.Status(id))
		polls++
		if err != nil {
			if ctx.Err() != nil {
				h.Outcome = OutcomeCancelled
			} else {
				h.Outcome = OutcomeAborted
			}
			return nil, fmt.Errorf("poll %s task %s: %w", job.Kind, id, err)
		}

		var st status
		if err := json.Unmarshal(data, &st); err != nil {
			h.Outcome = OutcomeAborted
			return nil, synoapi.TransportErr(job.Status(id).Op(), fmt.Errorf("decode status: %w", err))
		}

		if st.Finished {
			if job.Semantics == StatusMethod && hasError(st.Error) {
				h.Outcome = OutcomeFailed
				return nil, taskFailed(job, id, st.Error)
			}
			h.Outcome = OutcomeCompleted
			elapsed := d.clock.Now().Sub(h.StartedAt)
			log.Debug("task finished", slog.Int("polls", polls), slog.Duration("elapsed", elapsed))
			return &Result{Handle: h, Data: data, Polls: polls, Elapsed: elapsed}, nil
		}

		if job.Timeout > 0 && d.clock.Now().Sub(h.StartedAt) >= job.Timeout {
			h.Outcome = OutcomeTimedOut
			return nil, &synoapi.Error{
				Kind:   synoapi.KindTaskTimedOut,
				Op:     job.Status(id).Op(),
				Detail: fmt.Sprintf("%s task %s did not finish within %s", job.Kind, id, job.Timeout),
			}
		}

		select {
		case <-d.clock.After(interval):
		case <-ctx.Done():
			h.Outcome = OutcomeCancelled
			return nil, fmt.Errorf("%s task %s: %w", job.Kind, id, ctx.Err())
		}
	}
}

// stop releases the backend task. It runs detached from ctx cancellation so
// that an aborted caller still frees the task.
func (d *Driver) stop(ctx context.Context, job Job, h *Handle, log *slog.Logger) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	if _, err := d.caller.Call(stopCtx, job.Stop(h.ID)); err != nil {
		h.StopErr = err
		log.Warn("failed to stop task",
			slog.String("outcome", string(h.Outcome)),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Debug("task stopped", slog.String("outcome", string(h.Outcome)))
}

// taskID extracts the task id, which DSM sends as a string and some
// firmware as a number.
func taskID(data json.RawMessage) string {
	var v struct {
		TaskID json.RawMessage `json:"taskid"`
	}
	if err := json.Unmarshal(data, &v); err != nil || len(v.TaskID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.TaskID, &s); err == nil {
		return s
	}
	raw := strings.TrimSpace(string(v.TaskID))
	if raw == "null" {
		return ""
	}
	return raw
}

func hasError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "{}"
}

// taskFailed builds the TaskFailed error, lifting code and per-item errors
// out of the status error member when it has the envelope shape.
func taskFailed(job Job, id string, raw json.RawMessage) error {
	apiErr := &synoapi.Error{
		Kind:   synoapi.KindTaskFailed,
		Op:     job.Status(id).Op(),
		Detail: fmt.Sprintf("%s task %s failed: %s", job.Kind, id, strings.TrimSpace(string(raw))),
	}
	var shaped struct {
		Code   int                 `json:"code"`
		Errors []synoapi.ItemError `json:"errors"`
	}
	if err := json.Unmarshal(raw, &shaped); err == nil {
		apiErr.Code = shaped.Code
		apiErr.Items = shaped.Errors
	}
	return apiErr
}
