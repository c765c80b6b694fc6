// Package eventlog implements the append-only observability sink described
// in spec §4.6 and §9: the event log is authoritative history, the
// in-memory session map is a rebuildable cache. Every dispatch produces at
// least an input and an output envelope.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Type is an observability event kind.
type Type string

const (
	InputEnvelope               Type = "input_envelope"
	OutputEnvelope               Type = "output_envelope"
	RetrievalTrace                Type = "retrieval_trace"
	PendingCorrectionCreated      Type = "pending_correction_created"
	MemoryPromotionTransition     Type = "memory_promotion_transition"
	RecipeUsage                   Type = "recipe_usage"
	ArtifactBundleWritten         Type = "artifact_bundle_written"
	SubAgentJoined                Type = "sub_agent_joined"
	PromptMismatch                Type = "prompt_mismatch"
)

// Event is a single append-only observability row.
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	Type         Type           `json:"type"`
	RunSessionID string         `json:"runSessionId"`
	WorkID       string         `json:"workId"`
	AgentID      string         `json:"agentId"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Log is a process-wide, append-only event sink backed by a single JSONL
// file. Appends are strictly monotonic per writer (spec §5): a single mutex
// serializes writes, and each write is a single buffered line so concurrent
// readers never observe a torn record.
type Log struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer

	// nowFn is overridable in tests.
	nowFn func() time.Time
}

// Open creates (or appends to) the event log file at path, creating parent
// directories as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Log{file: f, w: bufio.NewWriter(f), nowFn: time.Now}, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Append writes one event, stamping Timestamp if it is zero.
func (l *Log) Append(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.nowFn()
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	b = append(b, '\n')
	if _, err := l.w.Write(b); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return l.w.Flush()
}

// ReadAll reads every event from the log file at path, in append order.
// Used by the eventreplay tool and by tests to assert on emitted events.
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing event line: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}
