package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store.
//
// Designed for:
//   - Production runtimes requiring shared persistence
//   - Deployments where several runtime processes serve the same agent fleet
//   - Tasks that must survive process restarts
//
// MySQLStore uses connection pooling; all writes are single-statement upserts.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a MySQL-backed checkpoint store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/tasks
//	user:password@tcp(127.0.0.1:3306)/tasks?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	store, err := checkpoint.NewMySQLStore(dsn)
//
// The DSN must include parseTime=true so timestamps scan as time.Time.
//
// The store automatically creates its table on first use and configures
// connection pooling with sane lifetimes.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS task_checkpoints (
			task_id VARCHAR(255) NOT NULL PRIMARY KEY,
			agent_name VARCHAR(255) NOT NULL,
			state VARCHAR(64) NOT NULL,
			context JSON NOT NULL,
			timestamp TIMESTAMP(6) NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			INDEX idx_agent_name (agent_name),
			INDEX idx_timestamp (timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create task_checkpoints table: %w", err)
	}
	return nil
}

// Save upserts the task's checkpoint row, preserving the original created_at.
func (m *MySQLStore) Save(ctx context.Context, cp Checkpoint) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errClosed("mysql")
	}
	m.mu.RUnlock()

	query := `
		INSERT INTO task_checkpoints (task_id, agent_name, state, context, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			agent_name = VALUES(agent_name),
			state = VALUES(state),
			context = VALUES(context),
			timestamp = VALUES(timestamp)
	`

	contextJSON := string(cp.Context)
	if contextJSON == "" {
		contextJSON = "null"
	}

	_, err := m.db.ExecContext(ctx, query,
		cp.TaskID,
		cp.AgentName,
		cp.State,
		contextJSON,
		cp.Timestamp.UTC(),
		cp.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint for taskID, or ErrNotFound.
func (m *MySQLStore) Load(ctx context.Context, taskID string) (Checkpoint, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return Checkpoint{}, errClosed("mysql")
	}
	m.mu.RUnlock()

	query := `
		SELECT task_id, agent_name, state, context, timestamp, created_at
		FROM task_checkpoints
		WHERE task_id = ?
	`
	cp, err := scanMySQLCheckpoint(m.db.QueryRowContext(ctx, query, taskID))
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
func (m *MySQLStore) List(ctx context.Context, agentName string) ([]Checkpoint, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, errClosed("mysql")
	}
	m.mu.RUnlock()

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

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanMySQLCheckpoint(rows)
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
func (m *MySQLStore) Delete(ctx context.Context, taskID string) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errClosed("mysql")
	}
	m.mu.RUnlock()

	if _, err := m.db.ExecContext(ctx, "DELETE FROM task_checkpoints WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection. Double-close is a no-op.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errClosed("mysql")
	}
	m.mu.RUnlock()
	return m.db.PingContext(ctx)
}

// scanMySQLCheckpoint reads a row whose timestamps are returned as
// driver-native time.Time values. Requires parseTime=true in the DSN.
func scanMySQLCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp          Checkpoint
		contextJSON []byte
		timestamp   sql.NullTime
		createdAt   sql.NullTime
	)
	if err := row.Scan(&cp.TaskID, &cp.AgentName, &cp.State, &contextJSON, &timestamp, &createdAt); err != nil {
		return Checkpoint{}, err
	}
	cp.Context = contextJSON
	if timestamp.Valid {
		cp.Timestamp = timestamp.Time
	}
	if createdAt.Valid {
		cp.CreatedAt = createdAt.Time
	}
	return cp, nil
}
