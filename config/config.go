// Package config loads engine settings from TOML files with environment
// variable overrides. Compiled-in defaults apply when no file is present,
// so a zero-configuration run always works.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/schedkit/errors"
)

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "SCHEDKIT_"

// Duration wraps time.Duration so TOML files can say "30s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// SchedulerSettings control the run loop.
type SchedulerSettings struct {
	// MaxConcurrent bounds how many tasks may be RUNNING at once.
	MaxConcurrent int `toml:"max_concurrent_tasks"`

	// DefaultTimeout applies to tasks whose config carries no timeout.
	DefaultTimeout Duration `toml:"default_task_timeout"`

	// CleanupInterval is the age cutoff used by periodic state cleanup.
	CleanupInterval Duration `toml:"cleanup_interval"`
}

// StateSettings control the durable task-state store.
type StateSettings struct {
	// FilePath locates the JSON state file.
	FilePath string `toml:"file_path"`

	// SaveInterval is the time-based flush policy: an Update triggers an
	// implicit Save once this much time has passed since the last one.
	SaveInterval Duration `toml:"save_interval"`

	// DirtyThreshold is the count-based flush policy: an Update triggers
	// an implicit Save once this many records are dirty. Zero disables it.
	DirtyThreshold int `toml:"dirty_threshold"`

	// LockTimeout bounds how long lock acquisition blocks before failing.
	LockTimeout Duration `toml:"lock_timeout"`

	// LockTTL is the liveness window written into the lock token; a token
	// older than this is stale and may be taken over.
	LockTTL Duration `toml:"lock_ttl"`
}

// PipelineSettings control pipeline execution.
type PipelineSettings struct {
	// MaxParallel bounds parallel tasks within one pipeline.
	MaxParallel int `toml:"max_parallel"`

	// Timeout bounds a whole pipeline run.
	Timeout Duration `toml:"timeout"`
}

// Settings is the root configuration document.
type Settings struct {
	Scheduler SchedulerSettings `toml:"scheduler"`
	State     StateSettings     `toml:"state"`
	Pipeline  PipelineSettings  `toml:"pipeline"`
}

// Default returns the compiled-in settings.
func Default() Settings {
	return Settings{
		Scheduler: SchedulerSettings{
			MaxConcurrent:   10,
			DefaultTimeout:  Duration{60 * time.Second},
			CleanupInterval: Duration{time.Hour},
		},
		State: StateSettings{
			FilePath:       "schedkit_state.json",
			SaveInterval:   Duration{time.Second},
			DirtyThreshold: 0,
			LockTimeout:    Duration{10 * time.Second},
			LockTTL:        Duration{30 * time.Second},
		},
		Pipeline: PipelineSettings{
			MaxParallel: 1,
			Timeout:     Duration{time.Hour},
		},
	}
}

// Load reads settings from the TOML file at path, layered over defaults
// and under environment overrides. A missing file is not an error.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &s); err != nil {
				return s, errors.InvalidConfig("parsing settings file", errors.WithCause(err),
					errors.WithMetadata("path", path))
			}
		} else if !os.IsNotExist(err) {
			return s, errors.InvalidConfig("reading settings file", errors.WithCause(err),
				errors.WithMetadata("path", path))
		}
	}

	applyEnv(&s)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// applyEnv overrides settings from SCHEDKIT_* environment variables.
func applyEnv(s *Settings) {
	if v := os.Getenv(envPrefix + "STATE_FILE"); v != "" {
		s.State.FilePath = v
	}
	if v := envDuration("STATE_SAVE_INTERVAL"); v > 0 {
		s.State.SaveInterval = Duration{v}
	}
	if v := envDuration("STATE_LOCK_TIMEOUT"); v > 0 {
		s.State.LockTimeout = Duration{v}
	}
	if v := envDuration("STATE_LOCK_TTL"); v > 0 {
		s.State.LockTTL = Duration{v}
	}
	if v := envInt("STATE_DIRTY_THRESHOLD"); v > 0 {
		s.State.DirtyThreshold = v
	}
	if v := envInt("SCHEDULER_MAX_CONCURRENT"); v > 0 {
		s.Scheduler.MaxConcurrent = v
	}
	if v := envDuration("SCHEDULER_DEFAULT_TIMEOUT"); v > 0 {
		s.Scheduler.DefaultTimeout = Duration{v}
	}
	if v := envInt("PIPELINE_MAX_PARALLEL"); v > 0 {
		s.Pipeline.MaxParallel = v
	}
	if v := envDuration("PIPELINE_TIMEOUT"); v > 0 {
		s.Pipeline.Timeout = Duration{v}
	}
}

func envDuration(name string) time.Duration {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envInt(name string) int {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.Scheduler.MaxConcurrent < 1 {
		return errors.InvalidConfig("scheduler.max_concurrent_tasks must be at least 1")
	}
	if s.Scheduler.DefaultTimeout.Duration < 0 {
		return errors.InvalidConfig("scheduler.default_task_timeout must not be negative")
	}
	if s.State.FilePath == "" {
		return errors.InvalidConfig("state.file_path must not be empty")
	}
	if s.State.SaveInterval.Duration <= 0 {
		return errors.InvalidConfig("state.save_interval must be positive")
	}
	if s.State.LockTimeout.Duration <= 0 {
		return errors.InvalidConfig("state.lock_timeout must be positive")
	}
	if s.State.LockTTL.Duration <= 0 {
		return errors.InvalidConfig("state.lock_ttl must be positive")
	}
	if s.Pipeline.MaxParallel < 1 {
		return errors.InvalidConfig("pipeline.max_parallel must be at least 1")
	}
	return nil
}
