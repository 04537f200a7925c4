package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"tap-auth0/internal/singer"
)

// Checkpoint is one saved state document.
type Checkpoint struct {
	ID        int64
	State     *singer.State
	CreatedAt time.Time
}

// SQLiteStore appends every saved state to a checkpoints table, keeping a
// history of flushed bookmarks. Load returns the newest row.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Load returns the most recent checkpoint, or nil when none exists.
func (s *SQLiteStore) Load(ctx context.Context) (*singer.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document FROM checkpoints ORDER BY id DESC LIMIT 1
	`).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return singer.ParseState(doc)
}

// Save appends a checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, st *singer.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (document, created_at) VALUES (?, ?)
	`, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	id, _ := res.LastInsertId()
	log.Debug().Int64("id", id).Msg("Checkpoint saved")
	return nil
}

// History returns up to limit checkpoints, newest first.
func (s *SQLiteStore) History(ctx context.Context, limit int) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document, created_at
		FROM checkpoints
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var doc []byte
		if err := rows.Scan(&cp.ID, &doc, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cp.State, err = singer.ParseState(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}

	return out, rows.Err()
}

// Prune keeps the newest keep checkpoints and deletes the rest.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE id NOT IN (SELECT id FROM checkpoints ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}

	count, _ := res.RowsAffected()
	if count > 0 {
		log.Info().Int64("count", count).Msg("Pruned old checkpoints")
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
