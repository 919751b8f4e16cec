// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent and execution persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text comparison in SQL orders correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer at a time; pragmas below then apply to every statement
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// executions.agent_id has no foreign key: history outlives deleted agents.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			role       TEXT NOT NULL,
			goal       TEXT NOT NULL,
			backstory  TEXT NOT NULL,
			tasks_json TEXT NOT NULL,
			position   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_position ON agents(position);

		CREATE TABLE IF NOT EXISTS executions (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			status     TEXT NOT NULL,
			result     TEXT,
			created_at TEXT NOT NULL,

			CHECK (status IN ('running', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_executions_status_created ON executions(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive column changes to databases created by older builds.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "agents",
			column: "position",
			apply:  `ALTER TABLE agents ADD COLUMN position INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "agents",
			column: "updated_at",
			apply:  `ALTER TABLE agents ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database answers a trivial query.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		// Rows written by hand or by older builds may use plain RFC3339
		if t2, err2 := time.Parse(time.RFC3339Nano, value); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("parsing %s: %w", column, err)
	}
	return t, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateAgent stores a new agent at the end of the ordering.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	tasksJSON, err := json.Marshal(agent.Tasks)
	if err != nil {
		return fmt.Errorf("encoding tasks: %w", err)
	}

	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = agent.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count); err != nil {
		return fmt.Errorf("counting agents: %w", err)
	}
	agent.Order = count

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, name, role, goal, backstory, tasks_json, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID, agent.Name, agent.Role, agent.Goal, agent.Backstory,
		string(tasksJSON), agent.Order,
		formatTime(agent.CreatedAt), formatTime(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing agent: %w", err)
	}
	return nil
}

const agentColumns = `id, name, role, goal, backstory, tasks_json, position, created_at, updated_at`

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var tasksJSON, createdAtStr, updatedAtStr string

	if err := row.Scan(
		&a.ID, &a.Name, &a.Role, &a.Goal, &a.Backstory,
		&tasksJSON, &a.Order, &createdAtStr, &updatedAtStr,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tasksJSON), &a.Tasks); err != nil {
		return nil, fmt.Errorf("decoding tasks: %w", err)
	}

	var err error
	a.CreatedAt, err = parseTime("created_at", createdAtStr)
	if err != nil {
		return nil, err
	}
	if updatedAtStr == "" {
		a.UpdatedAt = a.CreatedAt
	} else if a.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return nil, err
	}

	return &a, nil
}

// GetAgent retrieves an agent by ID
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents by position
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY position ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}

	return agents, nil
}

// UpdateAgent applies the non-nil fields of update and returns the stored agent.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, id string, update AgentUpdate) (*Agent, error) {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	addField := func(column string, value *string) {
		if value != nil {
			sets = append(sets, column+" = ?")
			args = append(args, *value)
		}
	}
	addField("name", update.Name)
	addField("role", update.Role)
	addField("goal", update.Goal)
	addField("backstory", update.Backstory)

	if update.Tasks != nil {
		tasksJSON, err := json.Marshal(update.Tasks)
		if err != nil {
			return nil, fmt.Errorf("encoding tasks: %w", err)
		}
		sets = append(sets, "tasks_json = ?")
		args = append(args, string(tasksJSON))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return s.GetAgent(ctx, id)
}

// DeleteAgent removes an agent and closes the gap in the ordering.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRowContext(ctx, `SELECT position FROM agents WHERE id = ?`, id).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying agent position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE agents SET position = position - 1 WHERE position > ?`, position); err != nil {
		return fmt.Errorf("compacting agent positions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// ReorderAgents writes every position inside one transaction, then
// renumbers all agents to 0..n-1 so sparse or partial requests cannot
// leave gaps or duplicates.
func (s *SQLiteStore) ReorderAgents(ctx context.Context, orders []AgentOrder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE agents SET position = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("preparing reorder: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		result, err := stmt.ExecContext(ctx, o.Order, o.ID)
		if err != nil {
			return fmt.Errorf("updating position for %s: %w", o.ID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("agent %s: %w", o.ID, ErrNotFound)
		}
	}

	if err := renumberAgents(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reorder: %w", err)
	}

	s.logger.Debug("agents reordered", "count", len(orders))
	return nil
}

// renumberAgents rewrites positions densely by (position, created_at, id).
func renumberAgents(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, position FROM agents ORDER BY position ASC, created_at ASC, id ASC`)
	if err != nil {
		return fmt.Errorf("listing agent positions: %w", err)
	}
	type slot struct {
		id       string
		position int
	}
	var slots []slot
	for rows.Next() {
		var sl slot
		if err := rows.Scan(&sl.id, &sl.position); err != nil {
			rows.Close()
			return fmt.Errorf("scanning agent position: %w", err)
		}
		slots = append(slots, sl)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("closing agent positions: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating agent positions: %w", err)
	}

	for i, sl := range slots {
		if sl.position == i {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE agents SET position = ? WHERE id = ?`, i, sl.id); err != nil {
			return fmt.Errorf("renumbering %s: %w", sl.id, err)
		}
	}
	return nil
}

// CreateExecution stores a new execution record
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, agent_id, agent_name, status, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.AgentID, exec.AgentName, exec.Status,
		nullableString(exec.Result), formatTime(exec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

const executionColumns = `id, agent_id, agent_name, status, result, created_at`

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var result sql.NullString
	var createdAtStr string

	if err := row.Scan(&e.ID, &e.AgentID, &e.AgentName, &e.Status, &result, &createdAtStr); err != nil {
		return nil, err
	}

	if result.Valid {
		r := result.String
		e.Result = &r
	}

	var err error
	e.CreatedAt, err = parseTime("created_at", createdAtStr)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExecution retrieves an execution by ID
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns executions newest first, limited when limit > 0
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	execs := make([]*Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	return execs, nil
}

// UpdateExecution overwrites status and result. There is no guard on the
// previous status; callers own the transition rules.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, id, status string, result *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, result = ? WHERE id = ?`,
		status, nullableString(result), id,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// FailStuckExecutions fails running executions created before cutoff in a single statement.
func (s *SQLiteStore) FailStuckExecutions(ctx context.Context, cutoff time.Time, message string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE executions
		SET status = 'failed', result = ?
		WHERE status = 'running' AND created_at < ?
		RETURNING id
	`, message, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failing stuck executions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning execution id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stuck executions: %w", err)
	}

	return ids, nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
