package store

import (
	"context"
	"strings"
	"sync"

	"dfs-go/internal/dfs"
)

// MemoryStore is an in-memory content-addressed store. Content ids are raw
// CIDv1 values, so it agrees with a node about what bytes an id names.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	gateway string
	content map[string][]byte // cid -> bytes
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty store whose Resolve points at gateway.
func NewMemoryStore(gateway string) *MemoryStore {
	return &MemoryStore{
		gateway: strings.TrimRight(gateway, "/"),
		content: make(map[string][]byte),
	}
}

// Pin stores data. Pinning the same bytes twice yields the same id.
func (m *MemoryStore) Pin(_ context.Context, _ string, data []byte) (string, error) {
	contentID, err := ComputeCID(data)
	if err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[contentID] = append([]byte(nil), data...)
	return contentID, nil
}

func (m *MemoryStore) Resolve(contentID string) string {
	return m.gateway + "/" + contentID
}

func (m *MemoryStore) Fetch(_ context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[contentID]
	if !ok {
		return nil, dfs.Errorf(dfs.KindStoreUnavailable, dfs.OpFetch, "content not found: %s", contentID)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of distinct pinned items.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

var _ dfs.ContentStore = (*MemoryStore)(nil)
