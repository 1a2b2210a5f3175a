// Package errors provides structured error handling for the scheduling engine.
//
// Errors carry a Code (specific failure), a Category (origin and default
// retry semantics), optional metadata, and the related task ID. The
// scheduler and the state store consult Retryable() instead of matching
// message strings.
//
// # Usage
//
//	err := errors.TaskFailed(taskID.String(), "connection refused",
//	    errors.WithMetadata("url", target))
//
//	if errors.IsRetryable(err) {
//	    // re-enqueue within the retry budget
//	}
//
//	switch errors.GetCode(err) {
//	case errors.CodeVersionConflict:
//	    // re-read the context and re-apply the change
//	case errors.CodeCorruptState:
//	    // fatal at startup: the process cannot trust its state
//	}
//
// # Taxonomy
//
//   - config: unknown task type, invalid configuration. Fatal at
//     submission, never retried.
//   - execution: task step failures and timeouts. Consumed by the
//     per-task retry budget; MAX_RETRIES marks exhaustion.
//   - context: missing associations and version conflicts. Expected
//     contention; callers retry the read-merge-write.
//   - persistence: I/O failures, lock timeouts, corrupt state files.
//     Saves are repeatable (the dirty set survives); corrupt state is not.
//   - internal: everything else.
//
// Errors serialize to JSON for run summaries and persisted records.
package errors
