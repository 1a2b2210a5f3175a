// Package tasks defines the task contract: configs, lifecycle states,
// and the cooperative execution model.
//
// A concrete task implements Runner, whose Step method performs one
// unit of work per call. Unit wraps a Runner and owns everything else:
// state transitions, retry accounting, the timeout window, and
// execution metrics. Runners stay oblivious to lifecycle so the same
// runner works under any scheduling policy.
//
// Execute runs exactly one attempt. A failed attempt with retry budget
// left transitions the unit to retry_pending and the scheduler decides
// when to re-queue it; the unit itself never sleeps or loops between
// attempts. The timeout window opens at the first attempt and is
// checked between steps, so a long step finishes before the timeout is
// observed.
//
// FileTask and HTTPTask are the built-in runners; FuncTask wraps plain
// step functions for tests and glue code.
package tasks
