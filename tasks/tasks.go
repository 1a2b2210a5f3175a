package tasks

import (
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/errors"
)

// State represents the lifecycle stage of a task.
type State string

const (
	// StateCreated indicates the task has been constructed but not
	// yet accepted by a scheduler.
	StateCreated State = "created"

	// StatePending indicates the task is queued and waiting to run.
	StatePending State = "pending"

	// StateRunning indicates an attempt is currently executing.
	StateRunning State = "running"

	// StateCompleted indicates the task finished successfully.
	StateCompleted State = "completed"

	// StateFailed indicates the task failed with no retries left.
	StateFailed State = "failed"

	// StateRetryPending indicates the last attempt failed and the
	// task is waiting to be re-queued.
	StateRetryPending State = "retry_pending"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Type identifies which runner a task config resolves to.
type Type string

const (
	// TypeFile performs filesystem operations.
	TypeFile Type = "file"

	// TypeHTTP performs an HTTP request.
	TypeHTTP Type = "http"
)

// Priority orders tasks in the scheduler queue. Higher runs first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

// Config describes a task to be scheduled.
type Config struct {
	// ID uniquely identifies the task. Generated if zero.
	ID uuid.UUID `json:"id"`

	// Type selects the runner from the registry.
	Type Type `json:"type"`

	// Priority determines queue order. Higher runs first.
	Priority Priority `json:"priority"`

	// DependsOn lists task IDs that must complete before this
	// task becomes executable.
	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	// Timeout bounds the total execution window, measured from the
	// first time the task enters the running state. Zero means no
	// timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries is the number of additional attempts after the
	// first failure. Zero means fail on the first error.
	MaxRetries int `json:"max_retries,omitempty"`

	// Start is the earliest time the task may run. Zero means
	// immediately.
	Start time.Time `json:"start,omitempty"`

	// Payload carries runner-specific parameters.
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate checks the config for structural problems. It does not
// check runner-specific payload requirements; runners do that on
// their first step.
func (c *Config) Validate() error {
	if c.Type == "" {
		return errors.InvalidConfig("task type is required")
	}
	if c.MaxRetries < 0 {
		return errors.InvalidConfig("max_retries must not be negative")
	}
	if c.Timeout < 0 {
		return errors.InvalidConfig("timeout must not be negative")
	}
	for _, dep := range c.DependsOn {
		if dep == c.ID {
			return errors.InvalidConfig("task cannot depend on itself",
				errors.WithTaskID(c.ID.String()))
		}
	}
	return nil
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() Config {
	clone := *c
	if c.DependsOn != nil {
		clone.DependsOn = make([]uuid.UUID, len(c.DependsOn))
		copy(clone.DependsOn, c.DependsOn)
	}
	if c.Payload != nil {
		clone.Payload = make(map[string]any, len(c.Payload))
		for k, v := range c.Payload {
			clone.Payload[k] = v
		}
	}
	return clone
}

// ExecError records one failed attempt.
type ExecError struct {
	// Message is the error text from the attempt.
	Message string `json:"message"`

	// At is when the attempt failed.
	At time.Time `json:"at"`
}

// Metrics tracks execution statistics for a task.
type Metrics struct {
	// ExecutionTime is the cumulative time spent in attempts.
	ExecutionTime time.Duration `json:"execution_time"`

	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	// ErrorCount is the total number of errors observed.
	ErrorCount int `json:"error_count"`

	// LastError describes the most recent failure, if any.
	LastError *ExecError `json:"last_error,omitempty"`

	// CreatedAt is when the task was constructed.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task last changed state.
	UpdatedAt time.Time `json:"updated_at"`
}
