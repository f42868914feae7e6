// internal/buffer/metastore.go
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/searchlab/searchtrace/internal/types"
)

// MetaStore persists the single active recording session's metadata at
// session.json, so a restarted worker can resume it. At most one session
// is active per data directory.
type MetaStore struct {
	root string
	mu   sync.Mutex
}

func NewMetaStore(root string) *MetaStore {
	return &MetaStore{root: root}
}

func (s *MetaStore) path() string {
	return filepath.Join(s.root, "session.json")
}

// Load returns the persisted session metadata, or nil when none exists.
func (s *MetaStore) Load(_ context.Context) (*types.SessionMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session meta: %w", err)
	}
	var meta types.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal session meta: %w", err)
	}
	return &meta, nil
}

// Save writes the metadata atomically.
func (s *MetaStore) Save(_ context.Context, meta *types.SessionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session meta: %w", err)
	}
	return nil
}

// Clear removes the persisted metadata.
func (s *MetaStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session meta: %w", err)
	}
	return nil
}
