package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"modelfetch/internal/logging"
)

// Fetch represents a row in the fetches table: one fetch attempt for a
// model asset, persisted across restarts.
type Fetch struct {
	ID           int64     `json:"id"`
	ModelID      string    `json:"model_id"`
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store wraps an sql.DB and provides typed helpers.
type Store struct {
	db *sql.DB

	subMu sync.RWMutex
	subs  map[chan ChangeEvent]struct{}
}

type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

type ChangeEvent struct {
	Type ChangeType
	ID   int64 // 0 means "resync needed"
}

// Open opens or creates a SQLite database at the given path and ensures schema.
func Open(path string) (*Store, error) {
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Conservative limits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:   db,
		subs: make(map[chan ChangeEvent]struct{}),
	}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS fetches (
    id INTEGER PRIMARY KEY,
    model_id TEXT NOT NULL,
    url TEXT,
    status TEXT,
    progress INTEGER,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_fetches_status ON fetches(status);
CREATE INDEX IF NOT EXISTS idx_fetches_model_id ON fetches(model_id);
CREATE INDEX IF NOT EXISTS idx_fetches_created_at ON fetches(created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// SubscribeChanges subscribes to mutation events.
// The returned unsubscribe function must be called to avoid leaks.
func (s *Store) SubscribeChanges(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan ChangeEvent, buffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
		}
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Store) emitChange(evt ChangeEvent) {
	s.subMu.RLock()
	targets := make([]chan ChangeEvent, 0, len(s.subs))
	for ch := range s.subs {
		targets = append(targets, ch)
	}
	s.subMu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			// Channel is saturated; collapse to a single resync event.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ChangeEvent{Type: ChangeUpsert, ID: 0}:
			default:
			}
		}
	}
}

// CreateFetch inserts a new fetch row and returns its ID.
func (s *Store) CreateFetch(ctx context.Context, modelID, url, status string, progress int) (int64, error) {
	if modelID == "" {
		return 0, ErrEmptyModelID
	}
	st := normalizeStatus(status)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO fetches (model_id, url, status, progress)
VALUES (?, ?, ?, ?)`, modelID, url, st, progress)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get insert id: %w", err)
	}
	logging.LogDBCreate(id, modelID, url, st, progress)
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: id})
	return id, nil
}

// UpdateProgress sets progress and bumps updated_at.
func (s *Store) UpdateProgress(ctx context.Context, id int64, progress int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE fetches SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, progress, id)
	if err != nil {
		return err
	}
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: id})
	return nil
}

// UpdateStatus sets status and an optional error message and bumps updated_at.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status, errMsg string) error {
	st := normalizeStatus(status)
	_, err := s.db.ExecContext(ctx, `UPDATE fetches SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, st, errMsg, id)
	if err != nil {
		return err
	}
	logging.LogDBUpdate("update_status", id, map[string]any{"status": st, "error": errMsg})
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: id})
	return nil
}

// GetFetch returns a single row by ID.
func (s *Store) GetFetch(ctx context.Context, id int64) (*Fetch, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, model_id, url, status, progress, COALESCE(error_message, ''), created_at, updated_at
FROM fetches WHERE id = ?`, id)
	var f Fetch
	if err := row.Scan(&f.ID, &f.ModelID, &f.URL, &f.Status, &f.Progress, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ListFilter narrows and orders ListFetches results.
type ListFilter struct {
	Status  string
	ModelID string
	Sort    string // created|updated|progress|model
	Order   string // asc|desc
	Limit   int
}

// ListFetches returns rows matching the filter, newest first by default.
func (s *Store) ListFetches(ctx context.Context, f ListFilter) ([]*Fetch, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, normalizeStatus(f.Status))
	}
	if f.ModelID != "" {
		where = append(where, "model_id = ?")
		args = append(args, f.ModelID)
	}

	q := `SELECT id, model_id, url, status, progress, COALESCE(error_message, ''), created_at, updated_at FROM fetches`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	sortCol := "created_at"
	switch f.Sort {
	case "updated":
		sortCol = "updated_at"
	case "progress":
		sortCol = "progress"
	case "model":
		sortCol = "model_id"
	}
	order := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		order = "ASC"
	}
	q += fmt.Sprintf(" ORDER BY %s %s", sortCol, order)

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Fetch
	for rows.Next() {
		var fr Fetch
		if err := rows.Scan(&fr.ID, &fr.ModelID, &fr.URL, &fr.Status, &fr.Progress, &fr.ErrorMessage, &fr.CreatedAt, &fr.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &fr)
	}
	return out, rows.Err()
}

// MarkInterrupted fails rows left in a non-terminal status by a previous
// process. Downloads are not resumable, so an attempt that did not finish
// before a restart can only be retried from scratch.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE fetches SET status = 'failed', error_message = 'interrupted', updated_at = CURRENT_TIMESTAMP
WHERE status IN ('queued', 'fetching')`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.LogDBUpdate("mark_interrupted", 0, map[string]any{"affected": n})
		s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: 0})
	}
	return n, nil
}

// normalizeStatus maps free-form status strings onto the known set.
func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued":
		return "queued"
	case "fetching", "downloading":
		return "fetching"
	case "completed", "complete", "done":
		return "completed"
	case "cancelled", "canceled":
		return "cancelled"
	case "failed", "error":
		return "failed"
	default:
		return "queued"
	}
}
