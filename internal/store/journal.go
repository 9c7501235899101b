// Package store persists the decision journal: one row per control-plane
// decision (verdicts, repairs, compaction passes, tier changes), so a
// session's "why" can be reconstructed after the fact without re-running
// it. SQLite keeps the deployment a single file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"helmsman/internal/logging"
)

// Entry is one journal row.
type Entry struct {
	ID        string
	SessionID string
	Iteration int
	// Kind and Signal mirror the structured decision log: what was
	// decided and what triggered it.
	Kind   string
	Signal string
	// Detail is free-form structured context, stored as JSON.
	Detail    map[string]interface{}
	CreatedAt time.Time
}

// Journal is the SQLite-backed decision journal.
type Journal struct {
	db   *sql.DB
	path string
}

// OpenJournal opens (creating if needed) the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		kind TEXT NOT NULL,
		signal TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, iteration);
	CREATE INDEX IF NOT EXISTS idx_decisions_kind ON decisions(kind);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	return nil
}

// Record appends one decision. Journal failures are reported but must
// never fail the session; callers log and continue.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	detail := "{}"
	if e.Detail != nil {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("journal detail: %w", err)
		}
		detail = string(raw)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO decisions (id, session_id, iteration, kind, signal, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Iteration, e.Kind, e.Signal, detail)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// BySession returns a session's decisions in iteration order.
func (j *Journal) BySession(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, iteration, kind, signal, detail, created_at
		 FROM decisions WHERE session_id = ? ORDER BY iteration, created_at`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var detail string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Iteration, &e.Kind, &e.Signal, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				logging.Get(logging.CategoryStore).Warnw("journal detail unreadable",
					"id", e.ID, "error", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByKind returns how many decisions of each kind a session made.
func (j *Journal) CountByKind(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM decisions WHERE session_id = ? GROUP BY kind`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal count: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
