package errors

// Category classifies errors by their origin and retry semantics.
type Category string

// Categories mirror the failure taxonomy of the scheduling engine.
const (
	// CategoryConfig indicates a submission-time configuration problem.
	// Examples: unknown task type, invalid task config. Never retried.
	CategoryConfig Category = "config"

	// CategoryExecution indicates a failure inside a task's business step.
	// Recoverable per task through the retry budget.
	CategoryExecution Category = "execution"

	// CategoryContext indicates a shared-context coordination failure.
	// Examples: missing association, stale version. Expected contention,
	// retryable by re-reading and re-applying.
	CategoryContext Category = "context"

	// CategoryPersistence indicates a durable-storage failure.
	// Examples: I/O errors, lock timeouts, corrupt state files.
	CategoryPersistence Category = "persistence"

	// CategoryInternal indicates unexpected errors or invariant violations.
	CategoryInternal Category = "internal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c Category) IsRetryable() bool {
	switch c {
	case CategoryExecution, CategoryContext:
		return true
	default:
		return false
	}
}

// Code identifies specific failure types within categories.
type Code string

// Error codes for the scheduling engine.
const (
	// Configuration errors (fatal at submission time).
	CodeTaskTypeUnknown Code = "TASK_TYPE_UNKNOWN" // Task type tag not registered
	CodeInvalidConfig   Code = "INVALID_CONFIG"    // Malformed or invalid task/settings config
	CodeDuplicateTask   Code = "DUPLICATE_TASK"    // Task ID already queued

	// Execution errors (consumed by the retry budget).
	CodeTaskFailed Code = "TASK_FAILED" // Business step returned an error
	CodeTimeout    Code = "TIMEOUT"     // Timeout window exceeded
	CodeMaxRetries Code = "MAX_RETRIES" // Retry budget exhausted

	// Context errors.
	CodeContextNotFound Code = "CONTEXT_NOT_FOUND" // No context associated with the task
	CodeVersionConflict Code = "VERSION_CONFLICT"  // Optimistic concurrency check failed

	// Persistence errors.
	CodePersistence   Code = "PERSISTENCE"     // State save/load I/O failure
	CodeLockTimeout   Code = "LOCK_TIMEOUT"    // Advisory file lock not acquired in time
	CodeCorruptState  Code = "CORRUPT_STATE"   // State file present but unparseable/invalid
	CodeStateNotFound Code = "STATE_NOT_FOUND" // No persisted record for the task

	// Internal errors.
	CodeInternal  Code = "INTERNAL"  // Unexpected internal error
	CodeDeadlock  Code = "DEADLOCK"  // Run loop terminated with blocked tasks
	CodeCancelled Code = "CANCELLED" // Run aborted by caller cancellation
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c Code) DefaultCategory() Category {
	switch c {
	case CodeTaskTypeUnknown, CodeInvalidConfig, CodeDuplicateTask:
		return CategoryConfig

	case CodeTaskFailed, CodeTimeout, CodeMaxRetries:
		return CategoryExecution

	case CodeContextNotFound, CodeVersionConflict:
		return CategoryContext

	case CodePersistence, CodeLockTimeout, CodeCorruptState, CodeStateNotFound:
		return CategoryPersistence

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
// Retryable means the same operation may succeed if attempted again: a
// failed step can re-run within its budget, a version conflict can be
// re-read and re-applied, and a failed save can be repeated because the
// dirty set stays intact. Exhausted budgets and corrupt files cannot.
func (c Code) DefaultRetryable() bool {
	switch c {
	case CodeMaxRetries:
		return false
	case CodePersistence, CodeLockTimeout:
		return true
	default:
		return c.DefaultCategory().IsRetryable()
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[Code]string{
	CodeTaskTypeUnknown: "task type is not registered",
	CodeInvalidConfig:   "invalid configuration",
	CodeDuplicateTask:   "task already queued",
	CodeTaskFailed:      "task execution failed",
	CodeTimeout:         "task timeout exceeded",
	CodeMaxRetries:      "task max retries exceeded",
	CodeContextNotFound: "context not found",
	CodeVersionConflict: "context version conflict",
	CodePersistence:     "state persistence failed",
	CodeLockTimeout:     "failed to acquire state file lock",
	CodeCorruptState:    "state file is corrupt",
	CodeStateNotFound:   "task state not found",
	CodeInternal:        "internal error",
	CodeDeadlock:        "no executable task remains",
	CodeCancelled:       "run cancelled by caller",
}

// Description returns a human-readable description for the error code.
func (c Code) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
