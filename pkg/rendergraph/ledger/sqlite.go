package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Fixed width so updated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists records to SQLite. Records are stored as JSON.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the ledger at path.
// Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A :memory: database is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_outcomes (
			batch_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			record TEXT NOT NULL,
			PRIMARY KEY (batch_id, task_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_task_outcomes_batch_id
		ON task_outcomes(batch_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM task_outcomes WHERE batch_id = ?
	`, rec.BatchID).Scan(&seq); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	rec.Sequence = seq

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_outcomes (batch_id, task_id, sequence, outcome, updated_at, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, task_id) DO UPDATE SET
			sequence = excluded.sequence,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at,
			record = excluded.record
	`, rec.BatchID, rec.TaskID, seq, rec.Outcome, time.Now().UTC().Format(timeLayout), string(data)); err != nil {
		return fmt.Errorf("save record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, batchID, taskID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT record FROM task_outcomes
		WHERE batch_id = ? AND task_id = ?
	`, batchID, taskID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}
	return decode(data)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, batchID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM task_outcomes
		WHERE batch_id = ?
		ORDER BY sequence
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Batches implements Store.
func (s *SQLiteStore) Batches(ctx context.Context) ([]BatchInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id, COUNT(*), SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), MAX(updated_at)
		FROM task_outcomes
		GROUP BY batch_id
		ORDER BY MAX(updated_at) DESC, batch_id
	`, OutcomeFailed)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	infos := []BatchInfo{}
	for rows.Next() {
		var (
			info    BatchInfo
			updated string
		)
		if err := rows.Scan(&info.BatchID, &info.Tasks, &info.Failed, &updated); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(timeLayout, updated)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return infos, nil
}

// DeleteBatch implements Store.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_outcomes WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func decode(data string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
