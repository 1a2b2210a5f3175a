package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/schedkit/errors"
)

// pollInterval is how often a blocked acquirer re-checks the lock file.
const pollInterval = 100 * time.Millisecond

// lockToken is the liveness record written into the lock file. A holder
// that crashes leaves its token behind; once Expires passes, any waiter
// may remove the file and take over.
type lockToken struct {
	Owner    string    `json:"owner"`
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
	Expires  time.Time `json:"expires"`
}

// fileLock is an advisory cross-process lock backed by an exclusively
// created sidecar file. Holders are expected to release quickly; long
// holds call Refresh to extend the liveness window.
type fileLock struct {
	path     string
	owner    string
	ttl      time.Duration
	released bool
}

// acquireLock blocks until the lock file at path can be created, a stale
// token is taken over, or timeout elapses.
func acquireLock(path string, timeout, ttl time.Duration) (*fileLock, error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := tryCreate(path, owner, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &fileLock{path: path, owner: owner, ttl: ttl}, nil
		}

		// Lock file exists. A token past its expiry means the holder
		// crashed without releasing; remove it and retry immediately.
		if stale, err := tokenExpired(path); err == nil && stale {
			os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, errors.LockTimeout(
				fmt.Sprintf("lock %s not acquired within %s", path, timeout))
		}
		time.Sleep(pollInterval)
	}
}

// tryCreate attempts to create the lock file exclusively and write the
// liveness token. Returns false when another holder already has it.
func tryCreate(path, owner string, ttl time.Duration) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Persistence("creating lock file", errors.WithCause(err))
	}
	defer f.Close()

	now := time.Now()
	token := lockToken{
		Owner:    owner,
		PID:      os.Getpid(),
		Acquired: now,
		Expires:  now.Add(ttl),
	}
	if err := json.NewEncoder(f).Encode(token); err != nil {
		os.Remove(path)
		return false, errors.Persistence("writing lock token", errors.WithCause(err))
	}
	return true, nil
}

// tokenExpired reports whether the token in the lock file has passed its
// liveness window. An unreadable or unparseable token counts as expired:
// it cannot prove a live holder.
func tokenExpired(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create attempt and this read.
			return false, nil
		}
		return true, nil
	}
	var token lockToken
	if err := json.Unmarshal(data, &token); err != nil {
		return true, nil
	}
	return time.Now().After(token.Expires), nil
}

// Refresh extends the liveness window. Fails if the lock was released or
// taken over by another process.
func (l *fileLock) Refresh() error {
	if l.released {
		return errors.Internal("refresh on released lock")
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errors.Persistence("reading lock token", errors.WithCause(err))
	}
	var token lockToken
	if err := json.Unmarshal(data, &token); err != nil || token.Owner != l.owner {
		return errors.LockTimeout("lock was taken over by another process")
	}

	token.Expires = time.Now().Add(l.ttl)
	updated, err := json.Marshal(token)
	if err != nil {
		return errors.Persistence("encoding lock token", errors.WithCause(err))
	}
	if err := os.WriteFile(l.path, updated, 0o644); err != nil {
		return errors.Persistence("writing lock token", errors.WithCause(err))
	}
	return nil
}

// Unlock releases the lock. Only the owning token is removed; if another
// process took over a stale lock, its token is left alone.
func (l *fileLock) Unlock() error {
	if l.released {
		return nil
	}
	l.released = true

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var token lockToken
	if err := json.Unmarshal(data, &token); err == nil && token.Owner != l.owner {
		return nil
	}
	return os.Remove(l.path)
}
