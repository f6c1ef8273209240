// Package toolstore persists tool instances next to the chat message that
// carries them, so a reloaded transcript shows its tools with their last
// inputs and results.
package toolstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"toolchat/internal/db"
	"toolchat/internal/instance"
	"toolchat/internal/render"
	"toolchat/internal/toolconfig"
)

// ErrNotFound is returned by Load for an unknown instance id.
var ErrNotFound = errors.New("toolstore: record not found")

// Record is the saved form of one tool instance.
type Record struct {
	ID        string
	SessionID string
	Config    json.RawMessage
	State     map[string]any
	Results   map[string]any
	Error     string
	UpdatedAt time.Time
}

// rowsErrFunc is a function type for testing the rows.Err() error path.
type rowsErrFunc func() error

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tool_instances (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL,
		state TEXT NOT NULL,
		results TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tool_instances_session ON tool_instances (session_id, updated_at)`,
}

// SQLStore keeps Records in a SQL table.
type SQLStore struct {
	db      *sql.DB
	rowsErr rowsErrFunc // nil means use rows.Err(); for testing only
}

// NewSQLStore creates the store and its schema. Returns an error if conn is
// nil or the migration fails.
func NewSQLStore(ctx context.Context, conn *sql.DB) (*SQLStore, error) {
	if conn == nil {
		return nil, errors.New("toolstore: db must not be nil")
	}
	if err := db.Migrate(ctx, conn, schema...); err != nil {
		return nil, fmt.Errorf("toolstore: %w", err)
	}
	return &SQLStore{db: conn}, nil
}

// Save inserts or replaces rec.
func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("toolstore: record id must not be empty")
	}
	if len(rec.Config) == 0 {
		return errors.New("toolstore: record config must not be empty")
	}
	state, err := encodeMap(rec.State)
	if err != nil {
		return fmt.Errorf("toolstore: encode state: %w", err)
	}
	results, err := encodeMap(rec.Results)
	if err != nil {
		return fmt.Errorf("toolstore: encode results: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_instances (id, session_id, config, state, results, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			config = excluded.config,
			state = excluded.state,
			results = excluded.results,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		rec.ID, rec.SessionID, string(rec.Config), state, results, rec.Error, rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("toolstore: save %s: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, session_id, config, state, results, error, updated_at FROM tool_instances`

// Load returns the record saved under id.
func (s *SQLStore) Load(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// List returns the records of a session, oldest first.
func (s *SQLStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE session_id = ? ORDER BY updated_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("toolstore: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	rowsErr := rows.Err()
	if s.rowsErr != nil {
		rowsErr = s.rowsErr()
	}
	if rowsErr != nil {
		return nil, fmt.Errorf("toolstore: list: %w", rowsErr)
	}
	return out, nil
}

// Delete removes the record saved under id. Deleting a missing record is not an error.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tool_instances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("toolstore: delete %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec                    Record
		config, state, results string
		updated                int64
	)
	if err := sc.Scan(&rec.ID, &rec.SessionID, &config, &state, &results, &rec.Error, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("toolstore: scan: %w", err)
	}
	rec.Config = json.RawMessage(config)
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return Record{}, fmt.Errorf("toolstore: decode state of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
		return Record{}, fmt.Errorf("toolstore: decode results of %s: %w", rec.ID, err)
	}
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(render.JSONSafe(m))
	return string(b), err
}

// Snapshot captures the current inputs and results of in.
func Snapshot(in *instance.Instance, sessionID string) (Record, error) {
	cfg, err := json.Marshal(in.Config)
	if err != nil {
		return Record{}, fmt.Errorf("toolstore: encode config of %s: %w", in.ID, err)
	}
	return Record{
		ID:        in.ID,
		SessionID: sessionID,
		Config:    cfg,
		State:     in.State.Snapshot(),
		Results:   in.Results(),
		Error:     in.Err(),
	}, nil
}

// Restore rebuilds a live instance from rec. A saved configuration that no
// longer validates is replaced by the fallback calculator.
func Restore(reg *instance.Registry, rec Record, opts ...toolconfig.ParseOption) (*instance.Instance, error) {
	cfg, err := toolconfig.ParseOrFallback(rec.Config, opts...)
	if err != nil {
		slog.Default().Warn("toolstore: saved config rejected, using fallback", "instance", rec.ID, "error", err)
	}
	return reg.Restore(rec.ID, cfg, rec.State, rec.Results)
}

// Track saves in after every change until the returned cancel is called.
// Save failures are logged.
func (s *SQLStore) Track(ctx context.Context, in *instance.Instance, sessionID string, logger *slog.Logger) (cancel func()) {
	if logger == nil {
		logger = slog.Default()
	}
	save := func(in *instance.Instance) {
		rec, err := Snapshot(in, sessionID)
		if err == nil {
			err = s.Save(ctx, rec)
		}
		if err != nil {
			logger.Warn("toolstore: save failed", "instance", in.ID, "error", err)
		}
	}
	save(in)
	return in.Watch(save)
}
