package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store owns every persisted row. One sqlite file, one writer process.
type Store struct {
	conn *sql.DB
	path string
}

func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "moim.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	// Serialize writers; the process is the only client.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, path: dbPath}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id TEXT NOT NULL,
	name TEXT NOT NULL,
	parent_id INTEGER,
	category_id TEXT,
	forum_channel_id TEXT,
	meeting_channel_id TEXT,
	created_at INTEGER NOT NULL,
	UNIQUE(guild_id, name)
)`,
		`CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id TEXT NOT NULL,
	project_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	assignee_id TEXT,
	assignee_name TEXT,
	status TEXT NOT NULL DEFAULT 'TODO',
	created_at INTEGER NOT NULL,
	source_meeting_id INTEGER,
	thread_id TEXT,
	message_id TEXT
)`,
		`CREATE TABLE IF NOT EXISTS meetings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id TEXT,
	title TEXT NOT NULL,
	channel_id TEXT,
	summary_json TEXT NOT NULL,
	jump_url TEXT,
	created_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS repos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id TEXT NOT NULL,
	repo_name TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	UNIQUE(guild_id, repo_name)
)`,
		`CREATE TABLE IF NOT EXISTS admins (
	user_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id TEXT PRIMARY KEY,
	assistant_channel_id TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_guild_status ON tasks(guild_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_guild_created ON memories(guild_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}

	// Columns added after the first release. Old files gain them here;
	// on a fresh file these fail because the column already exists.
	lateColumns := []string{
		`ALTER TABLE meetings ADD COLUMN guild_id TEXT`,
		`ALTER TABLE tasks ADD COLUMN source_meeting_id INTEGER`,
		`ALTER TABLE guild_settings ADD COLUMN assistant_channel_id TEXT`,
	}
	for _, stmt := range lateColumns {
		_, _ = s.conn.Exec(stmt)
	}
	return nil
}

func (s *Store) Conn() *sql.DB {
	return s.conn
}

func (s *Store) Close() error {
	return s.conn.Close()
}
