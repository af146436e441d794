// Package runlog persists engine transitions as an append-only JSON-lines
// file for post-hoc diagnosis. Writes are best-effort by contract: a logging
// failure must never fail the operation being logged, so callers treat the
// returned error as advisory.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one decoded run-log line.
type Entry map[string]any

// Logger appends structured entries to a JSON-lines file.
// Safe for concurrent use; lines are never interleaved.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a logger writing to path. The file and its directory are
// created on first append, not here.
func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// SetClock overrides the logger's time source. Test hook.
func (l *Logger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Append writes one entry with the given event name plus fields.
// The "event" and "timestamp" keys are stamped by the logger and override
// any caller-provided values.
func (l *Logger) Append(event string, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["event"] = event
	entry["timestamp"] = l.now().UTC().Format(time.RFC3339)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal run log entry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create run log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append run log entry: %w", err)
	}

	return nil
}

// Read loads every entry from the log file, skipping malformed lines.
// A missing file yields an empty slice, not an error.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	return entries, nil
}

// Filter selects run-log entries. Zero values mean no constraint;
// constraints are ANDed together.
type Filter struct {
	Since time.Time // keep entries at or after this time
	Event string    // glob pattern matched against the event field
}

// Apply returns the entries matching the filter, preserving order.
func (f Filter) Apply(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if !f.Since.IsZero() {
		raw, _ := e["timestamp"].(string)
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil || ts.Before(f.Since) {
			return false
		}
	}

	if f.Event != "" {
		event, _ := e["event"].(string)
		matched, err := filepath.Match(f.Event, event)
		if err != nil || !matched {
			return false
		}
	}

	return true
}
