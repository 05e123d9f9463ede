package resume

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store implementation backed by a single-table
// SQLite database, suitable for engine deployments that must survive a
// process restart.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn and runs the
// snapshot table migration.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("resume: open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("resume: migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		thread_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put upserts the snapshot under the thread id, last write wins.
func (s *SQLiteStore) Put(threadID string, snapshot *Snapshot) error {
	cp, err := snapshot.Clone()
	if err != nil {
		return err
	}
	cp.ThreadID = threadID
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("resume: marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO snapshots (thread_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		threadID, string(data), cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("resume: put snapshot: %w", err)
	}
	return nil
}

// Get loads the stored snapshot or returns ErrNotFound.
func (s *SQLiteStore) Get(threadID string) (*Snapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE thread_id = ?`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resume: get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("resume: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Has reports whether a snapshot exists for the thread id.
func (s *SQLiteStore) Has(threadID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM snapshots WHERE thread_id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resume: has snapshot: %w", err)
	}
	return true, nil
}
