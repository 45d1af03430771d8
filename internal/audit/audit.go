// Package audit provides an append-only JSON-lines record of every tool
// invocation: actor, role, action, a digest of its arguments, result,
// latency, and a trace ID for correlation.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Role      string    `json:"role"`
	Action    string    `json:"action"`
	ArgsHash  string    `json:"args_hash"`
	Result    string    `json:"result"`
	LatencyMS int64     `json:"latency_ms"`
	TraceID   string    `json:"trace_id"`
}

// Logger appends entries to a JSON-lines file. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates (or appends to) an audit.log file inside dir.
func Open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	return l.file.Close()
}

// hashArgs returns a short, stable digest of args so the audit log is
// useful for grepping/correlation without embedding potentially large or
// sensitive argument payloads verbatim.
func hashArgs(args map[string]any) string {
	raw, err := json.Marshal(sortedKeysMap(args))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// sortedKeysMap marshals through encoding/json, which already sorts map
// keys, so this is just a named pass-through for clarity at the call
// site.
func sortedKeysMap(args map[string]any) map[string]any {
	return args
}

// Log appends one entry. traceID defaults to a freshly generated UUID if
// empty.
func (l *Logger) Log(actor, role, action string, args map[string]any, result string, latency time.Duration, traceID string) error {
	if traceID == "" {
		traceID = uuid.NewString()
	}

	entry := Entry{
		Timestamp: time.Now(),
		Actor:     actor,
		Role:      role,
		Action:    action,
		ArgsHash:  hashArgs(args),
		Result:    result,
		LatencyMS: latency.Milliseconds(),
		TraceID:   traceID,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}
