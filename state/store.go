package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/config"
	"github.com/vinayprograms/schedkit/errors"
	"github.com/vinayprograms/schedkit/logging"
)

// Store keeps task-state records in memory and persists them to a JSON
// file. Writes are buffered through a dirty set and flushed by the
// save-interval policy or an explicit Save. The backing file is shared
// across processes under an advisory lock; see lock.go.
type Store struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	dirty   map[uuid.UUID]struct{}

	path           string
	saveInterval   time.Duration
	dirtyThreshold int
	lockTimeout    time.Duration
	lockTTL        time.Duration
	lastSave       time.Time

	log *logging.Logger
}

// NewStore creates a store over the configured state file. Nothing is
// read until Load.
func NewStore(cfg config.StateSettings, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{
		records:        make(map[uuid.UUID]Record),
		dirty:          make(map[uuid.UUID]struct{}),
		path:           cfg.FilePath,
		saveInterval:   cfg.SaveInterval.Duration,
		dirtyThreshold: cfg.DirtyThreshold,
		lockTimeout:    cfg.LockTimeout.Duration,
		lockTTL:        cfg.LockTTL.Duration,
		log:            log.WithComponent("state"),
	}
}

// lockPath is the sidecar advisory lock next to the state file.
func (s *Store) lockPath() string {
	return s.path + ".lock"
}

// Load reads the backing store into memory. A missing file yields empty
// state; a present but malformed or invalid file is CORRUPT_STATE, which
// callers at startup must treat as fatal rather than starting empty.
func (s *Store) Load() error {
	lock, err := acquireLock(s.lockPath(), s.lockTimeout, s.lockTTL)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.records = make(map[uuid.UUID]Record)
			s.dirty = make(map[uuid.UUID]struct{})
			s.mu.Unlock()
			return nil
		}
		return errors.Persistence("reading state file", errors.WithCause(err))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.CorruptState("state file is not valid JSON", errors.WithCause(err))
	}
	if err := validate(doc); err != nil {
		return err
	}

	s.mu.Lock()
	s.records = make(map[uuid.UUID]Record, len(doc.States))
	for id, rec := range doc.States {
		rec.TaskID = id
		s.records[id] = rec
	}
	s.dirty = make(map[uuid.UUID]struct{})
	s.mu.Unlock()

	s.log.StateLoaded(len(doc.States))
	return nil
}

// validate rejects documents the store cannot trust.
func validate(doc document) error {
	if doc.Version != schemaVersion {
		return errors.CorruptState("unsupported state file version",
			errors.WithMetadata("version", strconv.Itoa(doc.Version)))
	}
	if doc.Updated.IsZero() {
		return errors.CorruptState("state file missing updated timestamp")
	}
	if doc.States == nil {
		return errors.CorruptState("state file missing states map")
	}
	return nil
}

// Save flushes all dirty records to the backing store under the file
// lock. On success the dirty set clears; on failure it stays intact so a
// later Save retries the same records.
func (s *Store) Save() error {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	doc := document{
		Version: schemaVersion,
		Updated: time.Now(),
		States:  make(map[uuid.UUID]Record, len(s.records)),
	}
	for id, rec := range s.records {
		doc.States[id] = rec
	}
	// Snapshot the dirty keys with the records. An Update that lands
	// while the file is being written stays dirty for the next flush.
	flushed := make([]uuid.UUID, 0, len(s.dirty))
	for id := range s.dirty {
		flushed = append(flushed, id)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Persistence("encoding state", errors.WithCause(err))
	}

	lock, err := acquireLock(s.lockPath(), s.lockTimeout, s.lockTTL)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	s.backup()

	// Atomic replace: the state file is never observed half-written.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Persistence("writing temp state file", errors.WithCause(err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Persistence("replacing state file", errors.WithCause(err))
	}

	s.mu.Lock()
	for _, id := range flushed {
		delete(s.dirty, id)
	}
	s.lastSave = time.Now()
	s.mu.Unlock()

	s.log.StateSaved(len(flushed))
	return nil
}

// backupTimeFormat names backup files by local wall-clock second.
const backupTimeFormat = "20060102_150405"

// backup copies the current state file to a timestamped sidecar before
// it is replaced. Backup failure is logged, not fatal; the save itself
// still goes through.
func (s *Store) backup() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state backup skipped", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	bak := s.path + ".bak." + time.Now().Format(backupTimeFormat)
	if err := os.WriteFile(bak, data, 0o644); err != nil {
		s.log.Warn("state backup failed", map[string]interface{}{"error": err.Error()})
	}
}

// sweepBackups removes backup files whose timestamp suffix precedes the
// cutoff. Files whose suffix does not parse are left alone.
func (s *Store) sweepBackups(olderThan time.Time) int {
	matches, err := filepath.Glob(s.path + ".bak.*")
	if err != nil {
		return 0
	}
	prefix := s.path + ".bak."
	var removed int
	for _, m := range matches {
		ts, err := time.ParseInLocation(backupTimeFormat, strings.TrimPrefix(m, prefix), time.Local)
		if err != nil {
			continue
		}
		if ts.Before(olderThan) && os.Remove(m) == nil {
			removed++
		}
	}
	return removed
}

// Update stores the record in memory, marks it dirty, and flushes when
// the save policy says so: the save interval has elapsed since the last
// flush, or the dirty count reached the configured threshold.
func (s *Store) Update(taskID uuid.UUID, rec Record) error {
	rec.TaskID = taskID
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	s.records[taskID] = rec
	s.dirty[taskID] = struct{}{}
	due := time.Since(s.lastSave) >= s.saveInterval ||
		(s.dirtyThreshold > 0 && len(s.dirty) >= s.dirtyThreshold)
	s.mu.Unlock()

	if due {
		return s.Save()
	}
	return nil
}

// Get returns a copy of the task's record.
func (s *Store) Get(taskID uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return Record{}, errors.StateNotFound(taskID.String())
	}
	return rec, nil
}

// All returns a copy of every record, keyed by task ID.
func (s *Store) All() map[uuid.UUID]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out
}

// Dirty reports how many records have unsaved changes.
func (s *Store) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// Cleanup removes records whose last update precedes the cutoff, and
// sweeps backup files aged past the same cutoff. The record removals are
// dirtied so the next Save persists the shrink.
func (s *Store) Cleanup(olderThan time.Time) int {
	s.mu.Lock()
	var removed int
	for id, rec := range s.records {
		if rec.UpdatedAt.Before(olderThan) {
			delete(s.records, id)
			s.dirty[id] = struct{}{}
			removed++
		}
	}
	s.mu.Unlock()

	s.sweepBackups(olderThan)
	return removed
}
