package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore persists records to a SQLite database. WAL mode is enabled
// so readers do not block an active run's writer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite journal at the given DSN.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append stores a record.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	usage := ""
	if rec.Usage != nil {
		raw, err := json.Marshal(rec.Usage)
		if err != nil {
			return fmt.Errorf("journal: marshal usage: %w", err)
		}
		usage = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, seq, kind, workflow, depth, node, target, condition, matched, time, elapsed, error, usage)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.Seq,
		rec.Kind,
		rec.Workflow,
		rec.Depth,
		rec.Node,
		rec.Target,
		rec.Condition,
		boolToInt(rec.Matched),
		rec.Time.Format(time.RFC3339Nano),
		int64(rec.Elapsed),
		rec.Error,
		usage,
	)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// ListRun returns a run's records in sequence order.
func (s *SQLiteStore) ListRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, workflow, depth, node, target, condition, matched, time, elapsed, error, usage
		 FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			rec         Record
			matched     int
			timeStr     string
			elapsedNano int64
			usageJSON   string
		)
		err := rows.Scan(
			&rec.RunID,
			&rec.Seq,
			&rec.Kind,
			&rec.Workflow,
			&rec.Depth,
			&rec.Node,
			&rec.Target,
			&rec.Condition,
			&matched,
			&timeStr,
			&elapsedNano,
			&rec.Error,
			&usageJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("journal: scan record: %w", err)
		}

		rec.Matched = matched != 0
		rec.Elapsed = time.Duration(elapsedNano)
		t, err := time.Parse(time.RFC3339Nano, timeStr)
		if err != nil {
			return nil, fmt.Errorf("journal: parse time %q: %w", timeStr, err)
		}
		rec.Time = t
		if usageJSON != "" {
			if err := json.Unmarshal([]byte(usageJSON), &rec.Usage); err != nil {
				return nil, fmt.Errorf("journal: unmarshal usage: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunIDs returns the distinct run IDs present in the store.
func (s *SQLiteStore) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT run_id FROM run_events ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("journal: run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("journal: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
