package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"

	_ "modernc.org/sqlite"
)

// Store records which incidents have been posted, so a restart or a missing
// last status cannot post the same incident twice.
// It implements pipeline.PostedLedger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite ledger at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posted_incidents (
			incident_id TEXT NOT NULL,
			datetime TEXT NOT NULL,
			units TEXT,
			location TEXT,
			type TEXT,
			posted_at TIMESTAMP,
			PRIMARY KEY (incident_id, datetime)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posted_at ON posted_incidents(posted_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Posted reports whether incident has already been recorded. Incident IDs are
// only unique within a day, so the dispatch time is part of the key.
func (s *Store) Posted(ctx context.Context, incident domain.Incident) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM posted_incidents WHERE incident_id = ? AND datetime = ?`,
		incident.IncidentID, incident.DateTime,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return n > 0, nil
}

// Record marks incident as posted at postedAt. Recording twice is a no-op.
func (s *Store) Record(ctx context.Context, incident domain.Incident, postedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO posted_incidents (incident_id, datetime, units, location, type, posted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		incident.IncidentID, incident.DateTime, incident.Units, incident.Location, incident.Type, postedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record incident %s: %w", incident.IncidentID, err)
	}
	return nil
}

// Prune deletes entries posted before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posted_incidents WHERE posted_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return res.RowsAffected()
}
