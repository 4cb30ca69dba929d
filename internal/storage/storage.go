// Package storage persists incident records in SQLite. The write path is
// exclusively the alert dispatcher; everything else is read-only.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"vigil/internal/threat"
)

// Store handles SQLite database operations for incidents.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// IncidentFilter narrows an incident listing.
type IncidentFilter struct {
	StreamID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// Open creates a store backed by the SQLite file at path. Use ":memory:"
// for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent reads while the dispatcher writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the incident schema.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			category TEXT NOT NULL,
			confidence REAL NOT NULL,
			timestamp DATETIME NOT NULL,
			evidence_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_stream_time ON incidents(stream_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_time ON incidents(timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// SaveIncident persists an incident. Idempotent: re-inserting an existing
// incident ID is a no-op, so a retried dispatch never duplicates the
// record.
func (s *Store) SaveIncident(ctx context.Context, inc *threat.Incident) error {
	query := `INSERT INTO incidents (id, stream_id, category, confidence, timestamp, evidence_path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, inc.ID, inc.StreamID, string(inc.Category),
		inc.Confidence, inc.Timestamp.UTC(), inc.EvidencePath)
	if err != nil {
		return fmt.Errorf("failed to save incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID. Returns nil when not found.
func (s *Store) GetIncident(ctx context.Context, id string) (*threat.Incident, error) {
	query := `SELECT id, stream_id, category, confidence, timestamp, evidence_path
		FROM incidents WHERE id = ?`

	var inc threat.Incident
	var category string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&inc.ID, &inc.StreamID,
		&category, &inc.Confidence, &inc.Timestamp, &inc.EvidencePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	inc.Category = threat.Category(category)
	return &inc, nil
}

// ListIncidents returns incidents matching the filter, newest first.
func (s *Store) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*threat.Incident, error) {
	query := `SELECT id, stream_id, category, confidence, timestamp, evidence_path
		FROM incidents WHERE 1=1`
	args := []interface{}{}

	if filter.StreamID != "" {
		query += " AND stream_id = ?"
		args = append(args, filter.StreamID)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*threat.Incident
	for rows.Next() {
		var inc threat.Incident
		var category string
		if err := rows.Scan(&inc.ID, &inc.StreamID, &category, &inc.Confidence,
			&inc.Timestamp, &inc.EvidencePath); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		inc.Category = threat.Category(category)
		incidents = append(incidents, &inc)
	}
	return incidents, rows.Err()
}

// DeleteOldIncidents deletes incidents older than the given time and
// returns how many rows were removed.
func (s *Store) DeleteOldIncidents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM incidents WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old incidents: %w", err)
	}
	return result.RowsAffected()
}

// StartRetention periodically deletes incidents older than maxAge until
// stop is closed. A zero maxAge disables the sweep.
func (s *Store) StartRetention(interval, maxAge time.Duration, stop <-chan struct{}) {
	if maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				deleted, err := s.DeleteOldIncidents(context.Background(), time.Now().Add(-maxAge))
				if err != nil {
					s.logger.Error("retention sweep failed", zap.Error(err))
					continue
				}
				if deleted > 0 {
					s.logger.Info("retention sweep removed incidents", zap.Int64("count", deleted))
				}
			}
		}
	}()
}
