package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/lazymcp/pkg/domain"
	"github.com/nstogner/lazymcp/pkg/store"
)

// Store implements AgentStore, HistoryStore, and LogStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		servers TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_agent_seq ON messages(agent, seq);

	CREATE TABLE IF NOT EXISTS logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		agent TEXT NOT NULL,
		level TEXT NOT NULL,
		time TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_logs_agent ON logs(agent, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- AgentStore ---

func (s *Store) ListAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM agents ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, name string) (domain.AgentConfig, error) {
	var (
		cfg     domain.AgentConfig
		servers string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT description, servers FROM agents WHERE name = ?`, name,
	).Scan(&cfg.Description, &servers)
	if err == sql.ErrNoRows {
		return domain.AgentConfig{}, fmt.Errorf("agent %w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return domain.AgentConfig{}, err
	}
	if err := json.Unmarshal([]byte(servers), &cfg.Servers); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("decode servers of %s: %w", name, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]domain.ServerPermission{}
	}
	return cfg, nil
}

func (s *Store) EnsureAgent(ctx context.Context, name string, tmpl domain.AgentConfig) (domain.AgentConfig, error) {
	servers, err := json.Marshal(tmpl.Servers)
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("encode servers: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (name, description, servers, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		name, tmpl.Description, string(servers), now, now,
	)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return tmpl.Clone(), nil
	}
	return s.GetAgent(ctx, name)
}

func (s *Store) SaveAgent(ctx context.Context, name string, cfg domain.AgentConfig) error {
	servers, err := json.Marshal(cfg.Servers)
	if err != nil {
		return fmt.Errorf("encode servers: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (name, description, servers, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description=excluded.description, servers=excluded.servers, updated_at=excluded.updated_at`,
		name, cfg.Description, string(servers), now, now,
	)
	return err
}

func (s *Store) DeleteAgent(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE name=?`, name)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %w: %s", store.ErrNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE agent=?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE agent=?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// --- HistoryStore ---

func (s *Store) AppendMessage(ctx context.Context, agent string, msg domain.Message) error {
	var maxSeq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE agent=?`, agent,
	).Scan(&maxSeq)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, agent, role, content, timestamp, seq) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), agent, msg.Role, msg.Content, time.Now().UTC(), maxSeq+1,
	)
	return err
}

func (s *Store) Messages(ctx context.Context, agent string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE agent=? ORDER BY seq ASC`, agent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) ClearMessages(ctx context.Context, agent string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE agent=?`, agent)
	return err
}

// --- LogStore ---

func (s *Store) AppendLog(ctx context.Context, agent string, entry domain.LogEntry) error {
	if entry.Time == "" {
		entry.Time = time.Now().Format(time.DateTime)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (id, agent, level, time, message) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), agent, entry.Level, entry.Time, entry.Message,
	)
	return err
}

func (s *Store) DrainLogs(ctx context.Context, agent string) ([]domain.LogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, level, time, message FROM logs WHERE agent=? ORDER BY seq ASC`, agent)
	if err != nil {
		return nil, err
	}

	entries := []domain.LogEntry{}
	var last int64
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&last, &e.Level, &e.Time, &e.Message); err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(entries) == 0 {
		return entries, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE agent=? AND seq <= ?`, agent, last); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}
