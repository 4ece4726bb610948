package checkpoint_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dshills/taskrun-go/task/checkpoint"
)

// TestMemStoreConcurrentSaves verifies the store tolerates parallel writers
// on distinct task IDs without losing rows.
func TestMemStoreConcurrentSaves(t *testing.T) {
	s := checkpoint.NewMemStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := checkpoint.Checkpoint{
				TaskID:    fmt.Sprintf("task-%02d", i),
				AgentName: "agent-a",
				State:     "Executing",
				Context:   json.RawMessage(`{}`),
				Timestamp: time.Now().UTC(),
				CreatedAt: time.Now().UTC(),
			}
			if err := s.Save(ctx, cp); err != nil {
				t.Errorf("Save task-%02d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != n {
		t.Errorf("List returned %d checkpoints, want %d", len(all), n)
	}
}

// TestMemStoreLoadReturnsCopy verifies mutation of a loaded context does not
// corrupt the stored snapshot.
func TestMemStoreLoadReturnsCopy(t *testing.T) {
	s := checkpoint.NewMemStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	cp := checkpoint.Checkpoint{
		TaskID:    "task-1",
		AgentName: "agent-a",
		State:     "Idle",
		Context:   json.RawMessage(`{"k":"v"}`),
		Timestamp: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(ctx, "task-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded.Context[2] = 'X'

	again, err := s.Load(ctx, "task-1")
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if string(again.Context) != `{"k":"v"}` {
		t.Errorf("stored context was mutated through loaded copy: %s", again.Context)
	}
}

// TestMemStoreContextCancellation verifies a cancelled context short-circuits
// store operations.
func TestMemStoreContextCancellation(t *testing.T) {
	s := checkpoint.NewMemStore()
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Save(ctx, checkpoint.Checkpoint{TaskID: "task-1"}); err == nil {
		t.Error("Save with cancelled context: want error, got nil")
	}
	if _, err := s.Load(ctx, "task-1"); err == nil {
		t.Error("Load with cancelled context: want error, got nil")
	}
}
