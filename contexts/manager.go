package contexts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/errors"
)

// Manager owns context storage. All access goes through it; callers only
// ever hold deep copies, so a stale copy is caught by the version check
// in Update instead of silently clobbering concurrent writes.
type Manager struct {
	mu        sync.Mutex
	contexts  map[uuid.UUID]*Context
	tasks     map[uuid.UUID]uuid.UUID // task -> context
	pipelines map[uuid.UUID]uuid.UUID // pipeline -> context
}

// NewManager creates an empty context manager.
func NewManager() *Manager {
	return &Manager{
		contexts:  make(map[uuid.UUID]*Context),
		tasks:     make(map[uuid.UUID]uuid.UUID),
		pipelines: make(map[uuid.UUID]uuid.UUID),
	}
}

// Create allocates a new context with empty data and results at version 0.
// A non-nil pipelineID scopes the context to that pipeline.
func (m *Manager) Create(pipelineID uuid.UUID) *Context {
	now := time.Now()
	ctx := &Context{
		ID:         uuid.New(),
		PipelineID: pipelineID,
		Data:       Values{},
		Results:    Values{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.contexts[ctx.ID] = ctx
	if pipelineID != uuid.Nil {
		m.pipelines[pipelineID] = ctx.ID
	}
	return ctx.Clone()
}

// ForTask resolves the context associated with a task.
func (m *Manager) ForTask(taskID uuid.UUID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctxID, ok := m.tasks[taskID]
	if !ok {
		return nil, errors.ContextNotFound("no context associated with task " + taskID.String())
	}
	ctx, ok := m.contexts[ctxID]
	if !ok {
		return nil, errors.ContextNotFound("context " + ctxID.String() + " no longer exists")
	}
	return ctx.Clone(), nil
}

// Get retrieves a context by its own ID.
func (m *Manager) Get(contextID uuid.UUID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[contextID]
	if !ok {
		return nil, errors.ContextNotFound("context " + contextID.String() + " not found")
	}
	return ctx.Clone(), nil
}

// ForPipeline resolves the context scoped to a pipeline.
func (m *Manager) ForPipeline(pipelineID uuid.UUID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctxID, ok := m.pipelines[pipelineID]
	if !ok {
		return nil, errors.ContextNotFound("no context for pipeline " + pipelineID.String())
	}
	return m.contexts[ctxID].Clone(), nil
}

// Update replaces the stored context with the caller's copy under
// optimistic concurrency: the copy's Version must equal the stored
// version, otherwise the caller raced another writer and gets a
// VERSION_CONFLICT to re-read and re-apply. On success the change diff
// is appended to the history and Version increments.
func (m *Manager) Update(ctx *Context) (*Context, error) {
	if ctx == nil {
		return nil, errors.InvalidConfig("context must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.contexts[ctx.ID]
	if !ok {
		return nil, errors.ContextNotFound("context " + ctx.ID.String() + " not found")
	}
	if ctx.Version != existing.Version {
		return nil, errors.VersionConflict(existing.Version, ctx.Version)
	}

	updated := ctx.Clone()
	updated.Meta.History = append(existing.Meta.clone().History, Revision{
		Version:   existing.Version,
		Timestamp: time.Now(),
		Changes: ChangeSet{
			Data:    Diff(existing.Data, updated.Data),
			Results: Diff(existing.Results, updated.Results),
		},
	})
	updated.Version++
	updated.UpdatedAt = time.Now()

	m.contexts[ctx.ID] = updated
	return updated.Clone(), nil
}

// Merge unions the source context's data and results into the target.
// The target wins on key collisions. The merge is recorded as a history
// revision: incorporated keys under Added, collisions the target won
// under Conflicts. The source stays in place; cleanup is the caller's
// decision.
func (m *Manager) Merge(sourceID, targetID uuid.UUID) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, ok := m.contexts[sourceID]
	if !ok {
		return nil, errors.ContextNotFound("source context " + sourceID.String() + " not found")
	}
	target, ok := m.contexts[targetID]
	if !ok {
		return nil, errors.ContextNotFound("target context " + targetID.String() + " not found")
	}

	merged := target.Clone()
	now := time.Now()
	merged.Meta.History = append(merged.Meta.History, Revision{
		Version:   target.Version,
		Timestamp: now,
		Changes: ChangeSet{
			Data:    mergeValues(merged.Data, source.Data),
			Results: mergeValues(merged.Results, source.Results),
		},
	})
	merged.Meta.MergedFrom = source.ID
	merged.Meta.MergedAt = now
	merged.Meta.SourceVersion = source.Version
	merged.Version++
	merged.UpdatedAt = now

	m.contexts[targetID] = merged
	return merged.Clone(), nil
}

// mergeValues folds source keys into dst in place and returns the diff:
// incorporated keys as Added, collisions dst won as Conflicts.
func mergeValues(dst, source Values) MapDiff {
	d := MapDiff{Added: Values{}}
	for k, v := range source {
		cur, taken := dst[k]
		if !taken {
			dst[k] = v
			d.Added[k] = v
			continue
		}
		if !equal(cur, v) {
			if d.Conflicts == nil {
				d.Conflicts = map[string]Mod{}
			}
			d.Conflicts[k] = Mod{Old: v, New: cur}
		}
	}
	return d
}

// Associate binds a task to a context. Idempotent: re-associating the
// same pair is a no-op; re-binding a task to a different context replaces
// the relation.
func (m *Manager) Associate(taskID, contextID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[contextID]
	if !ok {
		return errors.ContextNotFound("context " + contextID.String() + " not found")
	}
	if prev, ok := m.tasks[taskID]; ok && prev == contextID {
		return nil
	}
	m.tasks[taskID] = contextID
	ctx.Meta.AssociatedTasks = append(ctx.Meta.AssociatedTasks, taskID)
	return nil
}

// Cleanup removes the pipeline's context and every task association
// pointing at it.
func (m *Manager) Cleanup(pipelineID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctxID, ok := m.pipelines[pipelineID]
	if !ok {
		return errors.ContextNotFound("no context for pipeline " + pipelineID.String())
	}
	delete(m.contexts, ctxID)
	delete(m.pipelines, pipelineID)
	for taskID, id := range m.tasks {
		if id == ctxID {
			delete(m.tasks, taskID)
		}
	}
	return nil
}

// Remove deletes a standalone context (typically a merged-away source).
func (m *Manager) Remove(contextID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contexts[contextID]; !ok {
		return errors.ContextNotFound("context " + contextID.String() + " not found")
	}
	delete(m.contexts, contextID)
	for taskID, id := range m.tasks {
		if id == contextID {
			delete(m.tasks, taskID)
		}
	}
	return nil
}

// Len reports how many contexts are stored.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}
