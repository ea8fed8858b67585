package logging

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// AuditEvent is one line in a JSONL audit trail. The shape is shared by
// the gateway attempt log and the evolution gate log.
type AuditEvent struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Target    string         `json:"target,omitempty"`
	Action    string         `json:"action,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// AuditLog appends events to a JSONL file. Append is safe for concurrent
// use.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog opens (or creates) the audit file at path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append writes one event, stamping the timestamp when unset.
func (a *AuditLog) Append(ev AuditEvent) error {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().Format(time.RFC3339)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// ReadAll loads every event in the file. Used for registration stats.
func (a *AuditLog) ReadAll() ([]AuditEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []AuditEvent
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var ev AuditEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

// Path returns the underlying file path.
func (a *AuditLog) Path() string { return a.path }
