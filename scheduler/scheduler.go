package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/config"
	"github.com/vinayprograms/schedkit/contexts"
	"github.com/vinayprograms/schedkit/errors"
	"github.com/vinayprograms/schedkit/logging"
	"github.com/vinayprograms/schedkit/state"
	"github.com/vinayprograms/schedkit/tasks"
)

// Result summarizes a scheduler run.
type Result struct {
	// Completed lists the tasks that finished successfully.
	Completed []uuid.UUID

	// Failed maps failed task IDs to the failure reason.
	Failed map[uuid.UUID]string

	// Blocked lists tasks still queued when the run deadlocked:
	// every remaining task waits on a dependency that can never
	// complete.
	Blocked []uuid.UUID
}

// Scheduler executes tasks in dependency and priority order. A single
// run loop drives execution; the mutex guards the completed and failed
// sets for concurrent observers.
type Scheduler struct {
	mu        sync.Mutex
	q         *queue
	seen      map[uuid.UUID]struct{}
	completed map[uuid.UUID]struct{}
	failed    map[uuid.UUID]string

	cm    *contexts.Manager
	store *state.Store
	cfg   config.SchedulerSettings
	log   *logging.Logger
}

// New creates a scheduler over the given context manager and state
// store. Either may be nil: without a store nothing persists, without a
// context manager tasks run with ad-hoc contexts created on demand.
func New(cfg config.SchedulerSettings, cm *contexts.Manager, store *state.Store, log *logging.Logger) *Scheduler {
	if cm == nil {
		cm = contexts.NewManager()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{
		q:         newQueue(),
		seen:      make(map[uuid.UUID]struct{}),
		completed: make(map[uuid.UUID]struct{}),
		failed:    make(map[uuid.UUID]string),
		cm:        cm,
		store:     store,
		cfg:       cfg,
		log:       log.WithComponent("scheduler"),
	}
}

// Add validates and enqueues a unit. Duplicate IDs are rejected; a task
// joins a run once.
func (s *Scheduler) Add(unit *tasks.Unit) error {
	if unit == nil {
		return errors.InvalidConfig("unit must not be nil")
	}
	cfg := unit.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, dup := s.seen[unit.ID()]; dup {
		s.mu.Unlock()
		return errors.New(errors.CodeDuplicateTask,
			"task already scheduled", errors.WithTaskID(unit.ID().String()))
	}
	s.seen[unit.ID()] = struct{}{}
	unit.SetState(tasks.StatePending)
	s.q.add(unit)
	s.mu.Unlock()

	return s.persist(unit)
}

// Run drives the queue until it drains or deadlocks. Individual task
// failures never abort the run; they land in Result.Failed and
// propagate to dependents. Run returns an error only for infrastructure
// problems or caller cancellation.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	s.log.SchedulerStart(s.q.Len())

	for {
		if err := ctx.Err(); err != nil {
			res := s.result(nil)
			return res, errors.WrapWithCode(err, errors.CodeCancelled, "run cancelled")
		}

		next, wait, blocked, propagated := s.selectNext()
		for _, unit := range propagated {
			s.persist(unit)
		}

		if next != nil {
			s.execute(ctx, next)
			continue
		}
		if len(propagated) > 0 {
			// New failures may cascade to held tasks; rescan before
			// deciding anything is blocked.
			continue
		}
		if wait > 0 {
			// Everything runnable is gated by a future start time.
			// Wait it out, then rescan.
			select {
			case <-ctx.Done():
				res := s.result(nil)
				return res, errors.WrapWithCode(ctx.Err(), errors.CodeCancelled, "run cancelled")
			case <-time.After(wait):
			}
			continue
		}
		if len(blocked) > 0 {
			// Nothing executable and nothing merely waiting: the
			// remaining tasks depend on each other or on tasks that
			// will never be added. Report them and stop.
			names := make([]string, len(blocked))
			for i, id := range blocked {
				names[i] = id.String()
			}
			s.log.DeadlockDetected(names)
			res := s.result(blocked)
			s.log.SchedulerStop(len(res.Completed), len(res.Failed), len(res.Blocked), time.Since(started))
			return res, nil
		}

		// Queue drained.
		res := s.result(nil)
		s.log.SchedulerStop(len(res.Completed), len(res.Failed), 0, time.Since(started))
		return res, nil
	}
}

// selectNext scans the queue in priority order for the first executable
// unit. Units with a failed dependency are failed on the spot and
// consumed; the caller persists them from propagated. Units not yet
// executable go back on the queue with their sequence intact. When
// nothing is executable, wait is the time until the earliest
// start-gated unit becomes runnable; if no unit is even waiting,
// blocked lists everything still queued.
func (s *Scheduler) selectNext() (next *item, wait time.Duration, blocked []uuid.UUID, propagated []*tasks.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var earliest time.Time
	var held []*item

	for next == nil {
		it := s.q.next()
		if it == nil {
			break
		}
		unit := it.unit

		if dep, failed := s.failedDepLocked(unit); failed {
			s.log.DependencyFailed(unit.ID().String(), dep.String())
			unit.SetState(tasks.StateFailed)
			s.failed[unit.ID()] = "dependency failed: " + dep.String()
			propagated = append(propagated, unit)
			continue
		}
		if !s.depsMetLocked(unit) {
			held = append(held, it)
			continue
		}
		if start := unit.Start(); start.After(now) {
			if earliest.IsZero() || start.Before(earliest) {
				earliest = start
			}
			held = append(held, it)
			continue
		}

		next = it
	}

	for _, it := range held {
		s.q.readd(it)
	}

	if next != nil {
		return next, 0, nil, propagated
	}
	if !earliest.IsZero() {
		return nil, time.Until(earliest), nil, propagated
	}
	for _, it := range held {
		blocked = append(blocked, it.unit.ID())
	}
	return nil, 0, blocked, propagated
}

func (s *Scheduler) depsMetLocked(unit *tasks.Unit) bool {
	for _, dep := range unit.DependsOn() {
		if _, ok := s.completed[dep]; !ok {
			return false
		}
	}
	return true
}

func (s *Scheduler) failedDepLocked(unit *tasks.Unit) (uuid.UUID, bool) {
	for _, dep := range unit.DependsOn() {
		if _, ok := s.failed[dep]; ok {
			return dep, true
		}
	}
	return uuid.Nil, false
}

// execute runs one attempt of the unit and routes the outcome.
func (s *Scheduler) execute(ctx context.Context, it *item) {
	unit := it.unit
	s.log.TaskStart(unit.ID().String(), string(unit.Config().Type))

	// Tasks that declare no timeout window of their own still get the
	// configured default, applied per attempt, so one misbehaving
	// runner cannot stall the run.
	if unit.Config().Timeout == 0 && s.cfg.DefaultTimeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout.Duration)
		defer cancel()
	}

	ec := s.contextFor(unit.ID())
	before := time.Now()
	err := unit.Execute(ctx, ec)

	// Fold the runner's context writes back into the manager. The run
	// loop is the only writer during execution, so the version check
	// cannot conflict here.
	if ec != nil {
		if _, uerr := s.cm.Update(ec); uerr != nil {
			s.log.Error("context update failed",
				map[string]interface{}{"task": unit.ID().String(), "error": uerr.Error()})
		}
	}

	switch unit.State() {
	case tasks.StateCompleted:
		s.mu.Lock()
		s.completed[unit.ID()] = struct{}{}
		s.mu.Unlock()
		s.log.TaskComplete(unit.ID().String(), time.Since(before))

	case tasks.StateRetryPending:
		if deadline, ok := unit.Deadline(); ok && time.Now().After(deadline) {
			// Retries left but no time left to spend them.
			unit.SetState(tasks.StateFailed)
			s.mu.Lock()
			s.failed[unit.ID()] = "timeout window elapsed: " + errMessage(err)
			s.mu.Unlock()
			s.log.TaskFailed(unit.ID().String(), unit.Metrics().RetryCount, err)
			break
		}
		s.log.TaskRetry(unit.ID().String(), unit.Metrics().RetryCount, err)
		unit.SetState(tasks.StatePending)
		s.mu.Lock()
		s.q.readd(it)
		s.mu.Unlock()

	case tasks.StateFailed:
		s.mu.Lock()
		s.failed[unit.ID()] = errMessage(err)
		s.mu.Unlock()
		s.log.TaskFailed(unit.ID().String(), unit.Metrics().RetryCount, err)
	}

	s.persist(unit)
}

// contextFor resolves the unit's execution context, creating an ad-hoc
// one for tasks that were never associated with a pipeline.
func (s *Scheduler) contextFor(taskID uuid.UUID) *contexts.Context {
	ec, err := s.cm.ForTask(taskID)
	if err == nil {
		return ec
	}
	ec = s.cm.Create(uuid.Nil)
	if aerr := s.cm.Associate(taskID, ec.ID); aerr != nil {
		s.log.Error("context association failed",
			map[string]interface{}{"task": taskID.String(), "error": aerr.Error()})
	}
	return ec
}

// persist records the unit's current state, best-effort. Persistence
// failures are logged, not fatal; the run continues on the in-memory
// truth and a later Save retries.
func (s *Scheduler) persist(unit *tasks.Unit) error {
	if s.store == nil {
		return nil
	}
	m := unit.Metrics()
	rec := state.Record{
		TaskID:     unit.ID(),
		State:      unit.State(),
		UpdatedAt:  m.UpdatedAt,
		RetryCount: m.RetryCount,
	}
	if m.LastError != nil {
		rec.LastError = m.LastError.Message
	}
	if err := s.store.Update(unit.ID(), rec); err != nil {
		s.log.Error("state persist failed",
			map[string]interface{}{"task": unit.ID().String(), "error": err.Error()})
		return err
	}
	return nil
}

// Completed reports whether the task finished successfully in this run.
func (s *Scheduler) Completed(taskID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[taskID]
	return ok
}

// Close flushes pending state to the store.
func (s *Scheduler) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save()
}

func (s *Scheduler) result(blocked []uuid.UUID) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{
		Completed: make([]uuid.UUID, 0, len(s.completed)),
		Failed:    make(map[uuid.UUID]string, len(s.failed)),
		Blocked:   blocked,
	}
	for id := range s.completed {
		res.Completed = append(res.Completed, id)
	}
	for id, reason := range s.failed {
		res.Failed[id] = reason
	}
	return res
}

func errMessage(err error) string {
	if err == nil {
		return "task failed"
	}
	return err.Error()
}
