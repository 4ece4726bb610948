package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store.
//
// It keeps one row per task in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process runtimes
//   - Local deployments that need persistence across restarts
//
// WAL mode is enabled so readers do not block the writer.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite checkpoint database.
//
// The path parameter specifies the database file location:
//   - "./tasks.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the schema, enables WAL mode, and sets a
// busy timeout so concurrent writers wait for locks instead of failing.
//
// Example:
//
//	store, err := checkpoint.NewSQLiteStore("./tasks.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS task_checkpoints (
			task_id TEXT NOT NULL PRIMARY KEY,
			agent_name TEXT NOT NULL,
			state TEXT NOT NULL,
			context TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create task_checkpoints table: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_agent ON task_checkpoints(agent_name)",
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_timestamp ON task_checkpoints(timestamp)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Save upserts the task's checkpoint row. The created_at of the first write
// is preserved across replacements.
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed("sqlite")
	}
	s.mu.RUnlock()

	query := `
		INSERT INTO task_checkpoints (task_id, agent_name, state, context, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent_name = excluded.agent_name,
			state = excluded.state,
			context = excluded.context,
			timestamp = excluded.timestamp
	`

	contextJSON := string(cp.Context)
	if contextJSON == "" {
		contextJSON = "null"
	}

	_, err := s.db.ExecContext(ctx, query,
		cp.TaskID,
		cp.AgentName,
		cp.State,
		contextJSON,
		cp.Timestamp.UTC().Format(time.RFC3339Nano),
		cp.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint for taskID. Returns ErrNotFound if the task
// has never been checkpointed.
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (Checkpoint, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return Checkpoint{}, errClosed("sqlite")
	}
	s.mu.RUnlock()

	query := `
		SELECT task_id, agent_name, state, context, timestamp, created_at
		FROM task_checkpoints
		WHERE task_id = ?
	`
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns checkpoints ordered by timestamp descending, optionally
// filtered by agent name.
func (s *SQLiteStore) List(ctx context.Context, agentName string) ([]Checkpoint, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errClosed("sqlite")
	}
	s.mu.RUnlock()

	query := `
		SELECT task_id, agent_name, state, context, timestamp, created_at
		FROM task_checkpoints
	`
	args := []interface{}{}
	if agentName != "" {
		query += " WHERE agent_name = ?"
		args = append(args, agentName)
	}
	query += " ORDER BY timestamp DESC, task_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return out, nil
}

// Delete removes the task's checkpoint. Missing IDs are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, taskID string) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed("sqlite")
	}
	s.mu.RUnlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM task_checkpoints WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed("sqlite")
	}
	s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp           Checkpoint
		contextJSON  string
		timestampStr string
		createdStr   string
	)
	if err := row.Scan(&cp.TaskID, &cp.AgentName, &cp.State, &contextJSON, &timestampStr, &createdStr); err != nil {
		return Checkpoint{}, err
	}
	cp.Context = []byte(contextJSON)

	var err error
	cp.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	cp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return cp, nil
}
