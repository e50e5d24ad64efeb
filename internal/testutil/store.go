package testutil

import (
	"context"
	"sync"

	"dfs-go/internal/dfs"
	"dfs-go/internal/store"
)

// FakeStore wraps an in-memory content store with call counters and
// injectable failures.
type FakeStore struct {
	*store.MemoryStore

	mu      sync.Mutex
	pins    int
	fetches int

	PinErr   error
	FetchErr error

	// PinResult overrides the content id returned by Pin when set.
	PinResult string
}

var _ dfs.ContentStore = (*FakeStore)(nil)

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{MemoryStore: store.NewMemoryStore("https://gateway.test/ipfs")}
}

func (s *FakeStore) Pin(ctx context.Context, fileName string, data []byte) (string, error) {
	s.mu.Lock()
	s.pins++
	err, override := s.PinErr, s.PinResult
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	contentID, err := s.MemoryStore.Pin(ctx, fileName, data)
	if err != nil {
		return "", err
	}
	if override != "" {
		return override, nil
	}
	return contentID, nil
}

func (s *FakeStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	s.mu.Lock()
	s.fetches++
	err := s.FetchErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Fetch(ctx, contentID)
}

// Pins returns the number of Pin calls.
func (s *FakeStore) Pins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins
}

// Fetches returns the number of Fetch calls.
func (s *FakeStore) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}
