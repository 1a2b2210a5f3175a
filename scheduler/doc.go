// Package scheduler executes task units in dependency and priority
// order.
//
// The queue is a priority heap: higher priority runs first, ties break
// by submission order. Each loop iteration scans for the first
// executable unit, meaning all its dependencies completed and its
// start time passed. A unit whose dependency failed is failed
// immediately without running, and the failure cascades through
// transitive dependents. When nothing is executable and nothing is
// merely waiting on a future start time, the remaining tasks form a
// cycle or wait on something that will never arrive; the run ends and
// reports them as blocked.
//
// A single goroutine drives execution, so a task's completion is
// always visible before any dependent's executability check. Failed
// attempts with retry budget left re-enter the queue at their original
// position among equal-priority peers.
package scheduler
