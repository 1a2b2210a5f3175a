package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/tasks"
)

// schemaVersion is the persisted document schema. Bump only with a
// migration path; Load rejects anything else.
const schemaVersion = 1

// Record is the persisted state of one task.
type Record struct {
	TaskID     uuid.UUID   `json:"task_id"`
	State      tasks.State `json:"state"`
	UpdatedAt  time.Time   `json:"updated_at"`
	RetryCount int         `json:"retry_count"`
	LastError  string      `json:"last_error,omitempty"`
}

// document is the on-disk layout: a single JSON object keyed by task ID,
// written atomically as a whole.
type document struct {
	Version int                  `json:"version"`
	Updated time.Time            `json:"updated"`
	States  map[uuid.UUID]Record `json:"states"`
}
