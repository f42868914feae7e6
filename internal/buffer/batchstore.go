// internal/buffer/batchstore.go
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/searchlab/searchtrace/internal/types"
)

// BatchStore persists pending upload batches, one JSON file per batch
// under pending/. A batch file exists from snapshot time until the sink
// acknowledges it, so an interrupted flush is recoverable after a worker
// restart.
type BatchStore struct {
	root string
	mu   sync.Mutex
}

// NewBatchStore creates a file-backed BatchStore rooted at the given
// directory.
func NewBatchStore(root string) *BatchStore {
	return &BatchStore{root: root}
}

func (s *BatchStore) pendingDir() string {
	return filepath.Join(s.root, "pending")
}

func (s *BatchStore) batchPath(id types.BatchID) string {
	return filepath.Join(s.pendingDir(), string(id)+".json")
}

// Put writes the batch atomically (temp file then rename).
func (s *BatchStore) Put(_ context.Context, batch *types.UploadBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.pendingDir(), 0o755); err != nil {
		return fmt.Errorf("create pending dir: %w", err)
	}
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	path := s.batchPath(batch.BatchID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename batch: %w", err)
	}
	return nil
}

// List returns all pending batches ordered by enqueue time.
func (s *BatchStore) List(_ context.Context) ([]*types.UploadBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.pendingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending dir: %w", err)
	}

	var batches []*types.UploadBatch
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.pendingDir(), entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read batch %s: %w", entry.Name(), err)
		}
		var batch types.UploadBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal batch %s: %w", entry.Name(), err)
		}
		batches = append(batches, &batch)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].EnqueuedAt.Before(batches[j].EnqueuedAt)
	})
	return batches, nil
}

// Delete removes an acknowledged batch.
func (s *BatchStore) Delete(_ context.Context, id types.BatchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.batchPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove batch: %w", err)
	}
	return nil
}
