// Package checkpoint provides durable persistence of task snapshots.
//
// A checkpoint is the minimum state needed to resume a task: its lifecycle
// state plus a serialized context snapshot. The runtime writes one after
// every transition and on a wall-clock interval during long provider calls;
// resume reads the most recent one back.
//
// Backends are pluggable behind the Store interface:
//   - MemStore: in-memory, for tests and short-lived runs
//   - SQLiteStore: single-file embedded database (modernc.org/sqlite)
//   - MySQLStore: shared relational database for production deployments
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for the requested task.
var ErrNotFound = errors.New("checkpoint not found")

func errClosed(backend string) error {
	return errors.New(backend + ": store is closed")
}

// Checkpoint is a durable snapshot of one task.
//
// Only the most recent checkpoint per task is retained by the stores (the
// runtime keeps the in-run trail on TaskResult); same-task writes are
// last-write-wins, which is safe because the runtime guarantees at most one
// active execution per task ID.
type Checkpoint struct {
	// TaskID identifies the task. Primary key in relational backends.
	TaskID string `json:"task_id"`

	// AgentName is the actor that owns the task. Indexed for List filtering.
	AgentName string `json:"agent_name"`

	// State is the task's lifecycle state at snapshot time.
	State string `json:"state"`

	// Context is the serialized task context (JSON).
	Context json.RawMessage `json:"context"`

	// Timestamp is when the snapshot was taken. List orders on this,
	// descending.
	Timestamp time.Time `json:"timestamp"`

	// CreatedAt is when the task's first checkpoint was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists task checkpoints.
//
// Implementations must allow concurrent Save calls for different task IDs
// without serializing them on a global lock. Same-ID writes may be
// serialized; last-write-wins semantics are acceptable.
type Store interface {
	// Save persists the checkpoint, replacing any previous snapshot for the
	// same task ID.
	Save(ctx context.Context, cp Checkpoint) error

	// Load returns the most recent checkpoint for the task, or ErrNotFound.
	Load(ctx context.Context, taskID string) (Checkpoint, error)

	// List returns checkpoints ordered by timestamp descending. An empty
	// agentName returns all tasks; otherwise only the named agent's.
	List(ctx context.Context, agentName string) ([]Checkpoint, error)

	// Delete removes the task's checkpoint. Deleting a missing task is not
	// an error.
	Delete(ctx context.Context, taskID string) error

	// Close releases backend resources. Operations after Close fail.
	Close() error
}
