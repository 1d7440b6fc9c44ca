// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides structured per-session operational logging and
// a separate, stronger-durability audit trail.
//
// Operational log entries buffer in memory and flush in batches to a
// newline-delimited JSON file; audit entries are written through to disk
// synchronously before the call returns. Sensitive values are redacted
// before an entry ever enters the buffer.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQMB/services/builder/observability"
)

// timestampLayout is ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultFlushThreshold is the buffer size that triggers an automatic
// flush.
const DefaultFlushThreshold = 100

// Level is a log severity.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// LogEntry is one structured operational log record.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     Level          `json:"level"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Stage     string         `json:"stage,omitempty"`
}

// SessionLogger buffers log entries for one session and appends them to
// <dir>/<session_id>.log as newline-delimited JSON.
//
// Entries are not durable until flushed; the buffer flushes automatically
// at the threshold and on demand via Flush. Flush failures never disrupt
// the caller -- telemetry loss is preferable to aborting a build step.
//
// Thread Safety: SessionLogger is safe for concurrent use.
type SessionLogger struct {
	mu        sync.Mutex
	dir       string
	sessionID string
	userID    string
	buffer    []LogEntry
	threshold int
	now       func() time.Time
}

// LoggerOption customizes a SessionLogger.
type LoggerOption func(*SessionLogger)

// WithFlushThreshold overrides the automatic flush threshold.
func WithFlushThreshold(n int) LoggerOption {
	return func(l *SessionLogger) {
		l.threshold = n
	}
}

// WithLoggerClock injects a time source for deterministic timestamps.
func WithLoggerClock(now func() time.Time) LoggerOption {
	return func(l *SessionLogger) {
		l.now = now
	}
}

// NewSessionLogger creates a logger bound to one session and user.
func NewSessionLogger(dir, sessionID, userID string, opts ...LoggerOption) *SessionLogger {
	l := &SessionLogger{
		dir:       dir,
		sessionID: sessionID,
		userID:    userID,
		threshold: DefaultFlushThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends one entry to the buffer, sanitizing the detail map first.
// An empty stage leaves the entry untagged. Reaching the flush threshold
// flushes the buffer as a side effect.
func (l *SessionLogger) Log(level Level, component, action string, details map[string]any, stage string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, LogEntry{
		Timestamp: l.now().Format(timestampLayout),
		Level:     level,
		SessionID: l.sessionID,
		UserID:    l.userID,
		Component: component,
		Action:    action,
		Details:   sanitizeDetails(details),
		Stage:     stage,
	})

	if len(l.buffer) >= l.threshold {
		_ = l.flushLocked() // flush failures never disrupt logging
	}
}

// Error logs at error level.
func (l *SessionLogger) Error(component, action string, details map[string]any) {
	l.Log(LevelError, component, action, details, "")
}

// Warn logs at warn level.
func (l *SessionLogger) Warn(component, action string, details map[string]any) {
	l.Log(LevelWarn, component, action, details, "")
}

// Info logs at info level.
func (l *SessionLogger) Info(component, action string, details map[string]any) {
	l.Log(LevelInfo, component, action, details, "")
}

// Debug logs at debug level.
func (l *SessionLogger) Debug(component, action string, details map[string]any) {
	l.Log(LevelDebug, component, action, details, "")
}

// Flush appends all buffered entries to the session log file and clears
// the buffer. Flushing an empty buffer is a no-op.
func (l *SessionLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// BufferedEntries returns the current buffer length.
func (l *SessionLogger) BufferedEntries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// logPath is <dir>/<session_id>.log.
func (l *SessionLogger) logPath() string {
	return filepath.Join(l.dir, l.sessionID+".log")
}

// flushLocked writes the buffer as NDJSON lines. Callers hold l.mu.
func (l *SessionLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	file, err := os.OpenFile(l.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer file.Close()

	for _, entry := range l.buffer {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal log entry: %w", err)
		}
		if _, err := file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append session log: %w", err)
		}
	}

	l.buffer = l.buffer[:0]
	observability.Default().LogFlushes.Inc()
	return nil
}
