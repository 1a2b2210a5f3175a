// Package contexts provides the shared mutable execution context for
// scheduled tasks and the manager that owns all context storage.
//
// A Context carries two key-value maps: Data (inputs and scratch space)
// and Results (task outputs), plus metadata and a monotonically increasing
// Version. Many tasks may share one context; the longest-lived holder is
// the pipeline.
//
// # Ownership and concurrency
//
// The Manager is the sole owner of context storage. Callers never hold a
// reference into the store: Create, ForTask, Get and Update all hand out
// deep copies. Mutations route back through Update, which enforces
// optimistic concurrency on Version:
//
//	ctx, _ := cm.ForTask(taskID)
//	ctx.Results["parsed"] = rows
//	ctx, err := cm.Update(ctx)
//	if errors.Is(err, errors.CodeVersionConflict) {
//	    // another task won the race: re-read, re-apply, retry
//	}
//
// Every successful Update strictly increments Version and appends the
// added/modified/removed diff to Meta.History, so concurrent writers are
// detectable and changes auditable.
//
// # Merging
//
// Merge unions one context into another with target precedence on key
// collisions; the recorded MergedFrom/SourceVersion preserve where the
// data came from. The source context is left in place for the caller to
// Remove once nothing references it.
package contexts
