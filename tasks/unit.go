package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/contexts"
	"github.com/vinayprograms/schedkit/errors"
)

// Runner is the contract a concrete task implements. Step performs one
// unit of work and returns done=true once the task has finished.
// Control returns to the caller between steps, so a runner that wants
// to remain interruptible splits its work across calls. Runners never
// manage lifecycle state; the wrapping Unit owns that.
type Runner interface {
	Step(ctx context.Context, ec *contexts.Context) (done bool, err error)
}

// StepFunc adapts a plain function to the Runner interface.
type StepFunc func(ctx context.Context, ec *contexts.Context) (bool, error)

// Step calls f.
func (f StepFunc) Step(ctx context.Context, ec *contexts.Context) (bool, error) {
	return f(ctx, ec)
}

// Unit wraps a Runner with lifecycle state, retry accounting, and
// timing. It is the only place task state transitions happen.
type Unit struct {
	mu      sync.Mutex
	cfg     Config
	runner  Runner
	state   State
	metrics Metrics
	lastErr error

	// firstRun anchors the timeout window. The deadline is measured
	// from the first attempt, not per attempt, so retries consume
	// the same budget.
	firstRun time.Time
}

// NewUnit wraps a runner with the given config. A zero config ID is
// replaced with a generated one.
func NewUnit(cfg Config, runner Runner) (*Unit, error) {
	if runner == nil {
		return nil, errors.InvalidConfig("runner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now()
	return &Unit{
		cfg:    cfg,
		runner: runner,
		state:  StateCreated,
		metrics: Metrics{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}, nil
}

// ID returns the task identifier.
func (u *Unit) ID() uuid.UUID {
	return u.cfg.ID
}

// Priority returns the scheduling priority.
func (u *Unit) Priority() Priority {
	return u.cfg.Priority
}

// DependsOn returns the task IDs this unit waits on.
func (u *Unit) DependsOn() []uuid.UUID {
	return u.cfg.DependsOn
}

// Start returns the earliest time the unit may run.
func (u *Unit) Start() time.Time {
	return u.cfg.Start
}

// Config returns a copy of the task config.
func (u *Unit) Config() Config {
	return u.cfg.Clone()
}

// State returns the current lifecycle state.
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// SetState overrides the lifecycle state. Used by the scheduler for
// bookkeeping transitions (queueing, forced failure); runners must
// never call it.
func (u *Unit) SetState(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.setStateLocked(s)
}

func (u *Unit) setStateLocked(s State) {
	u.state = s
	u.metrics.UpdatedAt = time.Now()
}

// Metrics returns a copy of the execution statistics.
func (u *Unit) Metrics() Metrics {
	u.mu.Lock()
	defer u.mu.Unlock()
	m := u.metrics
	if u.metrics.LastError != nil {
		e := *u.metrics.LastError
		m.LastError = &e
	}
	return m
}

// Err returns the error from the most recent attempt, nil if the last
// attempt succeeded or none has run.
func (u *Unit) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// Deadline returns the absolute time the task's timeout window closes,
// and whether a window exists. The window opens at the first attempt.
func (u *Unit) Deadline() (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cfg.Timeout <= 0 || u.firstRun.IsZero() {
		return time.Time{}, false
	}
	return u.firstRun.Add(u.cfg.Timeout), true
}

// Execute runs a single attempt. It transitions to running, drives the
// runner's Step until done, and settles into completed, retry_pending,
// or failed. The returned error is the structured classification of the
// attempt's failure, nil on success; the state transition carries the
// retry decision.
func (u *Unit) Execute(ctx context.Context, ec *contexts.Context) (err error) {
	u.mu.Lock()
	if u.firstRun.IsZero() {
		u.firstRun = time.Now()
	}
	deadline := time.Time{}
	if u.cfg.Timeout > 0 {
		deadline = u.firstRun.Add(u.cfg.Timeout)
	}
	u.setStateLocked(StateRunning)
	u.mu.Unlock()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = u.settle(started, errors.RecoverPanic(r))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return u.settle(started, errors.WrapWithCode(err, errors.CodeTimeout,
				"execution cancelled", errors.WithTaskID(u.cfg.ID.String())))
		}
		// The deadline is only observed between steps. A step that
		// overruns it finishes, then the timeout is synthesized here.
		if !deadline.IsZero() && time.Now().After(deadline) {
			return u.settle(started, errors.Timeout("task exceeded its timeout window",
				errors.WithTaskID(u.cfg.ID.String())))
		}

		done, stepErr := u.runner.Step(ctx, ec)
		if stepErr != nil {
			return u.settle(started, errors.WrapWithCode(stepErr, errors.CodeTaskFailed,
				"task step failed", errors.WithTaskID(u.cfg.ID.String())))
		}
		if done {
			return u.settle(started, nil)
		}
	}
}

// settle records the attempt outcome: duration, error accounting, and
// the resulting state transition.
func (u *Unit) settle(started time.Time, attemptErr *errors.Error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.metrics.ExecutionTime += time.Since(started)

	if attemptErr == nil {
		u.lastErr = nil
		u.setStateLocked(StateCompleted)
		return nil
	}

	u.metrics.ErrorCount++
	u.metrics.LastError = &ExecError{
		Message: attemptErr.Error(),
		At:      time.Now(),
	}

	// RetryCount counts retry cycles consumed, so an exhausted task
	// reports exactly MaxRetries.
	if u.metrics.RetryCount < u.cfg.MaxRetries {
		u.metrics.RetryCount++
		u.lastErr = attemptErr
		u.setStateLocked(StateRetryPending)
		return attemptErr
	}

	// Budget exhausted. If this was the first and only attempt the
	// original error stands; otherwise it is wrapped as retry
	// exhaustion so the cause chain keeps the last failure.
	final := error(attemptErr)
	if u.cfg.MaxRetries > 0 {
		final = errors.MaxRetries(u.cfg.ID.String(), u.cfg.MaxRetries,
			errors.WithCause(attemptErr))
	}
	u.lastErr = final
	u.setStateLocked(StateFailed)
	return final
}
