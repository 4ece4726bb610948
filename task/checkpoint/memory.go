package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store. Checkpoints are copied on Save and Load so
// callers cannot mutate stored snapshots.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string]Checkpoint
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]Checkpoint)}
}

// Save stores a copy of the checkpoint, replacing any prior snapshot for the
// same task ID. The original CreatedAt is preserved on replacement.
func (s *MemStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed("memstore")
	}
	if prev, ok := s.data[cp.TaskID]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	cp.Context = append([]byte(nil), cp.Context...)
	s.data[cp.TaskID] = cp
	return nil
}

// Load returns the checkpoint for taskID, or ErrNotFound.
func (s *MemStore) Load(ctx context.Context, taskID string) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Checkpoint{}, errClosed("memstore")
	}
	cp, ok := s.data[taskID]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	cp.Context = append([]byte(nil), cp.Context...)
	return cp, nil
}

// List returns checkpoints ordered by timestamp descending, optionally
// filtered by agent name.
func (s *MemStore) List(ctx context.Context, agentName string) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("memstore")
	}
	out := make([]Checkpoint, 0, len(s.data))
	for _, cp := range s.data {
		if agentName != "" && cp.AgentName != agentName {
			continue
		}
		cp.Context = append([]byte(nil), cp.Context...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

// Delete removes the checkpoint for taskID. Missing IDs are ignored.
func (s *MemStore) Delete(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed("memstore")
	}
	delete(s.data, taskID)
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}
