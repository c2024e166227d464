package checkpoint

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no checkpoint exists for a thread.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists one opaque state snapshot per conversation thread. The graph
// runtime owns the snapshot encoding; the store never looks inside it.
type Store interface {
	Get(ctx context.Context, threadID string) ([]byte, error)
	Put(ctx context.Context, threadID string, snapshot []byte) error
	Delete(ctx context.Context, threadID string) error
	Close() error
}

// MemoryStore keeps checkpoints in process memory; used in tests and when no
// checkpoint DSN is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, threadID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[threadID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "thread %s", threadID)
	}
	out := make([]byte, len(snapshot))
	copy(out, snapshot)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, threadID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	s.snapshots[threadID] = cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, threadID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
