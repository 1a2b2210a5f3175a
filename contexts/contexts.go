package contexts

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Values is the key-value payload carried by a context.
type Values map[string]any

// clone copies a Values map. Values themselves are treated as immutable;
// tasks replace keys rather than mutating nested structures in place.
func (v Values) clone() Values {
	if v == nil {
		return Values{}
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// MapDiff records how one Values map changed relative to another.
type MapDiff struct {
	Added    Values         `json:"added,omitempty"`
	Modified map[string]Mod `json:"modified,omitempty"`
	Removed  Values         `json:"removed,omitempty"`

	// Conflicts records merge collisions: Old is the incoming value
	// that lost, New the existing value that was kept. Only merge
	// revisions set this.
	Conflicts map[string]Mod `json:"conflicts,omitempty"`
}

// Mod holds the before and after of one modified key.
type Mod struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Empty reports whether the diff records no changes.
func (d MapDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 &&
		len(d.Removed) == 0 && len(d.Conflicts) == 0
}

// Diff computes the added/modified/removed keys going from old to new.
func Diff(old, new Values) MapDiff {
	d := MapDiff{
		Added:    Values{},
		Modified: map[string]Mod{},
		Removed:  Values{},
	}
	for key, val := range new {
		oldVal, ok := old[key]
		if !ok {
			d.Added[key] = val
		} else if !equal(oldVal, val) {
			d.Modified[key] = Mod{Old: oldVal, New: val}
		}
	}
	for key, val := range old {
		if _, ok := new[key]; !ok {
			d.Removed[key] = val
		}
	}
	return d
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// ChangeSet groups the diffs recorded for one update.
type ChangeSet struct {
	Data    MapDiff `json:"data"`
	Results MapDiff `json:"results"`
}

// Revision is one entry in a context's change history.
type Revision struct {
	// Version is the version the context had before this update applied.
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Changes   ChangeSet `json:"changes"`
}

// Meta carries observability metadata for a context.
type Meta struct {
	// AssociatedTasks lists tasks bound to this context, in association order.
	AssociatedTasks []uuid.UUID `json:"associated_tasks,omitempty"`

	// History records the change set of every successful update.
	History []Revision `json:"history,omitempty"`

	// MergedFrom identifies the source context of the most recent merge.
	MergedFrom uuid.UUID `json:"merged_from,omitempty"`

	// MergedAt is when that merge happened.
	MergedAt time.Time `json:"merged_at,omitempty"`

	// SourceVersion is the source context's version at merge time.
	SourceVersion uint64 `json:"source_version,omitempty"`
}

func (m Meta) clone() Meta {
	out := m
	if m.AssociatedTasks != nil {
		out.AssociatedTasks = make([]uuid.UUID, len(m.AssociatedTasks))
		copy(out.AssociatedTasks, m.AssociatedTasks)
	}
	if m.History != nil {
		out.History = make([]Revision, len(m.History))
		copy(out.History, m.History)
	}
	return out
}

// Context is the shared mutable execution context. Tasks receive a copy,
// mutate Data/Results on the copy, and route the change back through
// Manager.Update; Version is the optimistic concurrency token.
type Context struct {
	ID         uuid.UUID `json:"id"`
	PipelineID uuid.UUID `json:"pipeline_id,omitempty"`
	Data       Values    `json:"data"`
	Results    Values    `json:"results"`
	Meta       Meta      `json:"meta"`
	Version    uint64    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone creates a deep copy of the context.
func (c *Context) Clone() *Context {
	clone := *c
	clone.Data = c.Data.clone()
	clone.Results = c.Results.clone()
	clone.Meta = c.Meta.clone()
	return &clone
}
