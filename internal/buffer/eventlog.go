// internal/buffer/eventlog.go
package buffer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/searchlab/searchtrace/internal/types"
)

// EventLog is the JSONL-backed live buffer. Events are stored per-session
// in sessions/<sessionID>/buffer.jsonl and removed only once their batch
// has been acknowledged, so buffered-but-unsent events survive a worker
// restart.
type EventLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewEventLog creates a file-backed EventLog rooted at the given directory.
func NewEventLog(root string) *EventLog {
	return &EventLog{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (l *EventLog) getLock(sessionID types.SessionID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lock, ok := l.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[sessionID] = lock
	return lock
}

func (l *EventLog) bufferPath(sessionID types.SessionID) string {
	return filepath.Join(l.root, "sessions", string(sessionID), "buffer.jsonl")
}

// Append adds one enriched event to the session's buffer.
func (l *EventLog) Append(_ context.Context, sessionID types.SessionID, event *types.EnrichedEvent) error {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := l.bufferPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open buffer: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Load returns all buffered events for the session in append order.
func (l *EventLog) Load(_ context.Context, sessionID types.SessionID) ([]types.EnrichedEvent, error) {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return l.load(sessionID)
}

func (l *EventLog) load(sessionID types.SessionID) ([]types.EnrichedEvent, error) {
	f, err := os.Open(l.bufferPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open buffer: %w", err)
	}
	defer f.Close()

	var events []types.EnrichedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event types.EnrichedEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan buffer: %w", err)
	}
	return events, nil
}

// Remove deletes the events with the given IDs from the buffer, rewriting
// the file atomically. Called when a batch is acknowledged.
func (l *EventLog) Remove(_ context.Context, sessionID types.SessionID, ids []types.EventID) error {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	events, err := l.load(sessionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	drop := make(map[types.EventID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := events[:0]
	for _, event := range events {
		if !drop[event.ID] {
			kept = append(kept, event)
		}
	}

	path := l.bufferPath(sessionID)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp buffer: %w", err)
	}
	w := bufio.NewWriter(f)
	for i := range kept {
		data, err := json.Marshal(&kept[i])
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal event: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close buffer: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename buffer: %w", err)
	}
	return nil
}

// Count returns the number of buffered events.
func (l *EventLog) Count(ctx context.Context, sessionID types.SessionID) (int64, error) {
	events, err := l.Load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}

// SizeBytes returns the serialized size of the buffer, used for the
// size-triggered flush.
func (l *EventLog) SizeBytes(_ context.Context, sessionID types.SessionID) (int64, error) {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	info, err := os.Stat(l.bufferPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat buffer: %w", err)
	}
	return info.Size(), nil
}

// Clear removes the session's buffer file.
func (l *EventLog) Clear(_ context.Context, sessionID types.SessionID) error {
	lock := l.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(l.bufferPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove buffer: %w", err)
	}
	return nil
}
