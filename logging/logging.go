// Package logging provides leveled key=value console logging for the
// scheduling engine. The persisted state file is the durable record; this
// package exists for real-time monitoring of runs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return &Logger{
		output:   io.Discard,
		minLevel: LevelError,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Event-derived logging methods ---
// Called by the scheduler and the state store as runs progress.

// TaskStart logs the start of a task attempt.
func (l *Logger) TaskStart(taskID, taskType string) {
	l.Info("task_start", map[string]interface{}{
		"task": taskID,
		"type": taskType,
	})
}

// TaskComplete logs a successful task completion.
func (l *Logger) TaskComplete(taskID string, duration time.Duration) {
	l.Info("task_complete", map[string]interface{}{
		"task":     taskID,
		"duration": duration.String(),
	})
}

// TaskFailed logs a terminal task failure.
func (l *Logger) TaskFailed(taskID string, attempt int, err error) {
	fields := map[string]interface{}{
		"task":    taskID,
		"attempt": attempt,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error("task_failed", fields)
}

// TaskRetry logs a retryable failure and re-enqueue.
func (l *Logger) TaskRetry(taskID string, attempt int, err error) {
	fields := map[string]interface{}{
		"task":    taskID,
		"attempt": attempt,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("task_retry", fields)
}

// DependencyFailed logs failure propagation from a failed dependency.
func (l *Logger) DependencyFailed(taskID, dependencyID string) {
	l.Warn("dependency_failed", map[string]interface{}{
		"task":       taskID,
		"dependency": dependencyID,
	})
}

// SchedulerStart logs the start of a run.
func (l *Logger) SchedulerStart(queued int) {
	l.Info("scheduler_start", map[string]interface{}{
		"queued": queued,
	})
}

// SchedulerStop logs the end of a run.
func (l *Logger) SchedulerStop(completed, failed, blocked int, duration time.Duration) {
	l.Info("scheduler_stop", map[string]interface{}{
		"completed": completed,
		"failed":    failed,
		"blocked":   blocked,
		"duration":  duration.String(),
	})
}

// DeadlockDetected logs a run ending with permanently blocked tasks.
func (l *Logger) DeadlockDetected(blocked []string) {
	l.Error("deadlock_detected", map[string]interface{}{
		"blocked": strings.Join(blocked, ","),
	})
}

// StateSaved logs a successful flush of dirty records.
func (l *Logger) StateSaved(records int) {
	l.Debug("state_saved", map[string]interface{}{
		"records": records,
	})
}

// StateLoaded logs a successful load of the state file.
func (l *Logger) StateLoaded(records int) {
	l.Info("state_loaded", map[string]interface{}{
		"records": records,
	})
}

// ContextUpdated logs a context version bump.
func (l *Logger) ContextUpdated(contextID string, version uint64) {
	l.Debug("context_updated", map[string]interface{}{
		"context": contextID,
		"version": version,
	})
}
