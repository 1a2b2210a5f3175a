package scheduler

import (
	"context"
	stderrors "errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/config"
	"github.com/vinayprograms/schedkit/contexts"
	"github.com/vinayprograms/schedkit/errors"
	"github.com/vinayprograms/schedkit/state"
	"github.com/vinayprograms/schedkit/tasks"
)

// recorder tracks execution order across tasks.
type recorder struct {
	mu    sync.Mutex
	order []uuid.UUID
}

func (r *recorder) mark(id uuid.UUID) {
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func (r *recorder) index(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.order {
		if got == id {
			return i
		}
	}
	return -1
}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return New(config.Default().Scheduler, contexts.NewManager(), nil, nil)
}

// unitFor builds a unit that records its execution and succeeds.
func unitFor(t *testing.T, rec *recorder, cfg tasks.Config) *tasks.Unit {
	t.Helper()
	cfg.Type = tasks.Type("test")
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	id := cfg.ID
	unit, err := tasks.NewUnit(cfg, tasks.StepFunc(
		func(ctx context.Context, ec *contexts.Context) (bool, error) {
			rec.mark(id)
			return true, nil
		}))
	if err != nil {
		t.Fatalf("NewUnit() error: %v", err)
	}
	return unit
}

// failingUnit builds a unit that records its execution and fails.
func failingUnit(t *testing.T, rec *recorder, cfg tasks.Config) *tasks.Unit {
	t.Helper()
	cfg.Type = tasks.Type("test")
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	id := cfg.ID
	unit, err := tasks.NewUnit(cfg, tasks.StepFunc(
		func(ctx context.Context, ec *contexts.Context) (bool, error) {
			rec.mark(id)
			return false, stderrors.New("deliberate failure")
		}))
	if err != nil {
		t.Fatalf("NewUnit() error: %v", err)
	}
	return unit
}

func TestScheduler_DuplicateAdd(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}
	unit := unitFor(t, rec, tasks.Config{})

	if err := s.Add(unit); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.Add(unit); !errors.Is(err, errors.CodeDuplicateTask) {
		t.Errorf("second Add() code = %v, want DUPLICATE_TASK", errors.GetCode(err))
	}
}

func TestScheduler_PriorityOrder(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}

	low := unitFor(t, rec, tasks.Config{Priority: tasks.PriorityLow})
	high := unitFor(t, rec, tasks.Config{Priority: tasks.PriorityHigh})
	critical := unitFor(t, rec, tasks.Config{Priority: tasks.PriorityCritical})
	medium := unitFor(t, rec, tasks.Config{Priority: tasks.PriorityMedium})

	for _, u := range []*tasks.Unit{low, high, critical, medium} {
		if err := s.Add(u); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Completed) != 4 {
		t.Fatalf("completed %d tasks, want 4", len(res.Completed))
	}

	want := []uuid.UUID{critical.ID(), high.ID(), medium.ID(), low.ID()}
	for i, id := range want {
		if rec.order[i] != id {
			t.Fatalf("execution order %v, want %v", rec.order, want)
		}
	}
}

func TestScheduler_EqualPrioritySubmissionOrder(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		u := unitFor(t, rec, tasks.Config{Priority: tasks.PriorityMedium})
		ids = append(ids, u.ID())
		if err := s.Add(u); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for i, id := range ids {
		if rec.order[i] != id {
			t.Fatalf("execution order %v, want submission order %v", rec.order, ids)
		}
	}
}

// A scenario where priority and dependencies interact: C has the
// highest priority and no dependencies, B outranks A but depends on
// it, so the order is C, A, B.
func TestScheduler_DependencyBeatsPriority(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}

	a := unitFor(t, rec, tasks.Config{Priority: 1})
	b := unitFor(t, rec, tasks.Config{Priority: 5, DependsOn: []uuid.UUID{a.ID()}})
	c := unitFor(t, rec, tasks.Config{Priority: 10})

	for _, u := range []*tasks.Unit{a, b, c} {
		if err := s.Add(u); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Completed) != 3 {
		t.Fatalf("completed %d, want 3 (failed: %v, blocked: %v)", len(res.Completed), res.Failed, res.Blocked)
	}

	want := []uuid.UUID{c.ID(), a.ID(), b.ID()}
	for i, id := range want {
		if rec.order[i] != id {
			t.Fatalf("execution order %v, want [C A B] = %v", rec.order, want)
		}
	}
}

// Random DAGs: every task must run after all of its dependencies.
func TestScheduler_RandomDAGOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		s := newScheduler(t)
		rec := &recorder{}

		n := 3 + rng.Intn(8)
		units := make([]*tasks.Unit, n)
		for i := 0; i < n; i++ {
			cfg := tasks.Config{
				ID:       uuid.New(),
				Priority: tasks.Priority(rng.Intn(21)),
			}
			// Depend only on earlier tasks so the graph stays acyclic.
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					cfg.DependsOn = append(cfg.DependsOn, units[j].ID())
				}
			}
			units[i] = unitFor(t, rec, cfg)
			if err := s.Add(units[i]); err != nil {
				t.Fatalf("trial %d: Add() error: %v", trial, err)
			}
		}

		res, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("trial %d: Run() error: %v", trial, err)
		}
		if len(res.Completed) != n {
			t.Fatalf("trial %d: completed %d of %d (blocked: %v)", trial, len(res.Completed), n, res.Blocked)
		}

		for _, u := range units {
			for _, dep := range u.DependsOn() {
				if rec.index(dep) > rec.index(u.ID()) {
					t.Fatalf("trial %d: task %s ran before its dependency %s", trial, u.ID(), dep)
				}
			}
		}
	}
}

// A failed dependency fails its dependents transitively, without ever
// running them.
func TestScheduler_DependencyFailurePropagation(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}

	root := failingUnit(t, rec, tasks.Config{})
	mid := unitFor(t, rec, tasks.Config{DependsOn: []uuid.UUID{root.ID()}})
	leaf := unitFor(t, rec, tasks.Config{DependsOn: []uuid.UUID{mid.ID()}})
	bystander := unitFor(t, rec, tasks.Config{})

	for _, u := range []*tasks.Unit{root, mid, leaf, bystander} {
		if err := s.Add(u); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Failed) != 3 {
		t.Fatalf("Failed = %v, want root, mid, leaf", res.Failed)
	}
	for _, u := range []*tasks.Unit{mid, leaf} {
		if _, ok := res.Failed[u.ID()]; !ok {
			t.Errorf("task %s missing from Failed", u.ID())
		}
		if u.State() != tasks.StateFailed {
			t.Errorf("task %s state = %s, want %s", u.ID(), u.State(), tasks.StateFailed)
		}
		if rec.index(u.ID()) != -1 {
			t.Errorf("dependent %s ran despite failed dependency", u.ID())
		}
	}
	if len(res.Completed) != 1 || res.Completed[0] != bystander.ID() {
		t.Errorf("Completed = %v, want just the bystander", res.Completed)
	}
}

// A retrying task goes back through the queue the configured number of
// times and then fails permanently.
func TestScheduler_RetryExhaustion(t *testing.T) {
	s := newScheduler(t)

	const retries = 2
	var attempts int
	unit, err := tasks.NewUnit(tasks.Config{
		ID:         uuid.New(),
		Type:       tasks.Type("test"),
		MaxRetries: retries,
	}, tasks.StepFunc(func(ctx context.Context, ec *contexts.Context) (bool, error) {
		attempts++
		return false, stderrors.New("always fails")
	}))
	if err != nil {
		t.Fatalf("NewUnit() error: %v", err)
	}

	if err := s.Add(unit); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if attempts != retries+1 {
		t.Errorf("attempts = %d, want %d", attempts, retries+1)
	}
	if _, ok := res.Failed[unit.ID()]; !ok {
		t.Errorf("Failed = %v, want the exhausted task", res.Failed)
	}
	if m := unit.Metrics(); m.RetryCount != retries {
		t.Errorf("Metrics().RetryCount = %d, want %d", m.RetryCount, retries)
	}
}

// A retrying task that succeeds on a later attempt completes.
func TestScheduler_RetryThenSucceed(t *testing.T) {
	s := newScheduler(t)

	var attempts int
	unit, err := tasks.NewUnit(tasks.Config{
		ID:         uuid.New(),
		Type:       tasks.Type("test"),
		MaxRetries: 3,
	}, tasks.StepFunc(func(ctx context.Context, ec *contexts.Context) (bool, error) {
		attempts++
		if attempts < 3 {
			return false, stderrors.New("transient")
		}
		return true, nil
	}))
	if err != nil {
		t.Fatalf("NewUnit() error: %v", err)
	}

	if err := s.Add(unit); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Completed) != 1 {
		t.Fatalf("Completed = %v, want the retried task", res.Completed)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

// Two tasks depending on each other deadlock: neither runs, both are
// reported blocked.
func TestScheduler_CycleDeadlock(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}

	idA, idB := uuid.New(), uuid.New()
	a := unitFor(t, rec, tasks.Config{ID: idA, DependsOn: []uuid.UUID{idB}})
	b := unitFor(t, rec, tasks.Config{ID: idB, DependsOn: []uuid.UUID{idA}})

	if err := s.Add(a); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.Add(b); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(res.Blocked) != 2 {
		t.Fatalf("Blocked = %v, want both tasks", res.Blocked)
	}
	if len(rec.order) != 0 {
		t.Errorf("%d tasks executed in a full cycle, want 0", len(rec.order))
	}
	if len(res.Completed) != 0 || len(res.Failed) != 0 {
		t.Errorf("Completed = %v, Failed = %v, want both empty", res.Completed, res.Failed)
	}
}

// A task gated only by a future start time is waited on, not treated
// as deadlocked.
func TestScheduler_StartTimeGate(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}

	start := time.Now().Add(150 * time.Millisecond)
	gated := unitFor(t, rec, tasks.Config{Start: start})
	if err := s.Add(gated); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Blocked) != 0 {
		t.Fatalf("Blocked = %v, want none", res.Blocked)
	}
	if len(res.Completed) != 1 {
		t.Fatalf("Completed = %v, want the gated task", res.Completed)
	}
	if rec.index(gated.ID()) == -1 {
		t.Fatal("gated task did not run")
	}
	if time.Now().Before(start) {
		t.Error("gated task ran before its start time")
	}
}

// Task timeout with retries remaining: once the window elapses the
// scheduler stops re-queuing and forces failure.
func TestScheduler_TimeoutWindowStopsRetries(t *testing.T) {
	s := newScheduler(t)

	unit, err := tasks.NewUnit(tasks.Config{
		ID:         uuid.New(),
		Type:       tasks.Type("test"),
		MaxRetries: 100,
		Timeout:    30 * time.Millisecond,
	}, tasks.StepFunc(func(ctx context.Context, ec *contexts.Context) (bool, error) {
		time.Sleep(20 * time.Millisecond)
		return false, stderrors.New("slow failure")
	}))
	if err != nil {
		t.Fatalf("NewUnit() error: %v", err)
	}

	if err := s.Add(unit); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if _, ok := res.Failed[unit.ID()]; !ok {
		t.Fatalf("Failed = %v, want the timed-out task", res.Failed)
	}
	if unit.State() != tasks.StateFailed {
		t.Errorf("unit state = %s, want %s", unit.State(), tasks.StateFailed)
	}
	if m := unit.Metrics(); m.RetryCount >= 100 {
		t.Errorf("RetryCount = %d, timeout window did not cut retries short", m.RetryCount)
	}
}

func TestScheduler_PersistsOutcomes(t *testing.T) {
	settings := config.StateSettings{
		FilePath:     filepath.Join(t.TempDir(), "state.json"),
		SaveInterval: config.Duration{Duration: time.Hour},
		LockTimeout:  config.Duration{Duration: 2 * time.Second},
		LockTTL:      config.Duration{Duration: 30 * time.Second},
	}
	store := state.NewStore(settings, nil)

	s := New(config.Default().Scheduler, contexts.NewManager(), store, nil)
	rec := &recorder{}
	ok := unitFor(t, rec, tasks.Config{})
	bad := failingUnit(t, rec, tasks.Config{})

	if err := s.Add(ok); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := s.Add(bad); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// A fresh store sees the final states.
	fresh := state.NewStore(settings, nil)
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	okRec, err := fresh.Get(ok.ID())
	if err != nil {
		t.Fatalf("Get(ok) error: %v", err)
	}
	if okRec.State != tasks.StateCompleted {
		t.Errorf("persisted ok state = %s, want %s", okRec.State, tasks.StateCompleted)
	}
	badRec, err := fresh.Get(bad.ID())
	if err != nil {
		t.Fatalf("Get(bad) error: %v", err)
	}
	if badRec.State != tasks.StateFailed {
		t.Errorf("persisted bad state = %s, want %s", badRec.State, tasks.StateFailed)
	}
	if badRec.LastError == "" {
		t.Error("persisted failure carries no error message")
	}
}

func TestScheduler_ContextResultsVisibleToDependents(t *testing.T) {
	cm := contexts.NewManager()
	s := New(config.Default().Scheduler, cm, nil, nil)

	pipeline := uuid.New()
	shared := cm.Create(pipeline)

	producerID, consumerID := uuid.New(), uuid.New()
	producer, err := tasks.NewUnit(tasks.Config{ID: producerID, Type: tasks.Type("test")},
		tasks.StepFunc(func(ctx context.Context, ec *contexts.Context) (bool, error) {
			ec.Results[producerID.String()] = "produced"
			return true, nil
		}))
	if err != nil {
		t.Fatal(err)
	}

	var seen any
	consumer, err := tasks.NewUnit(tasks.Config{
		ID: consumerID, Type: tasks.Type("test"),
		DependsOn: []uuid.UUID{producerID},
	}, tasks.StepFunc(func(ctx context.Context, ec *contexts.Context) (bool, error) {
		seen = ec.Results[producerID.String()]
		return true, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []uuid.UUID{producerID, consumerID} {
		if err := cm.Associate(id, shared.ID); err != nil {
			t.Fatalf("Associate() error: %v", err)
		}
	}
	if err := s.Add(producer); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(consumer); err != nil {
		t.Fatal(err)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Completed) != 2 {
		t.Fatalf("completed %d, want 2 (failed: %v)", len(res.Completed), res.Failed)
	}
	if seen != "produced" {
		t.Errorf("consumer saw %v, want the producer's result", seen)
	}
}

func TestScheduler_RunCancelled(t *testing.T) {
	s := newScheduler(t)
	rec := &recorder{}
	if err := s.Add(unitFor(t, rec, tasks.Config{})); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx); !errors.Is(err, errors.CodeCancelled) {
		t.Errorf("Run() code = %v, want CANCELLED", errors.GetCode(err))
	}
}
