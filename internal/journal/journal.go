// Package journal is the local coordination history store.
//
// It records sync runs and ecosystem snapshots in SQLite so the sync
// engine can recommend a next sync time from real history and health
// reports can show the last full sync. Collaborator-owned data never
// lives here — ProjectIntelligence and handoff packages are persisted
// through the graph-store collaborator.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// SyncRun is one recorded sync invocation.
type SyncRun struct {
	ID            string `json:"id"`
	StartedAt     string `json:"started_at"`
	DurationMS    int64  `json:"duration_ms"`
	Success       bool   `json:"success"`
	FailureCount  int    `json:"failure_count"`
	ConflictCount int    `json:"conflict_count"`
	Detail        string `json:"detail,omitempty"`
}

// Snapshot is one recorded ecosystem health snapshot.
type Snapshot struct {
	ID            int64   `json:"id"`
	TakenAt       string  `json:"taken_at"`
	Status        string  `json:"status"`
	ErrorCount    int     `json:"error_count"`
	AvgResponseMS float64 `json:"avg_response_ms"`
	Detail        string  `json:"detail,omitempty"`
}

// Stats holds aggregate journal statistics.
type Stats struct {
	TotalSyncRuns  int    `json:"total_sync_runs"`
	FailedSyncRuns int    `json:"failed_sync_runs"`
	TotalSnapshots int    `json:"total_snapshots"`
	LastSyncAt     string `json:"last_sync_at,omitempty"`
	LastSnapshotAt string `json:"last_snapshot_at,omitempty"`
}

// Config holds journal configuration.
type Config struct {
	DataDir string
}

// Store is the journal backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal database under cfg.DataDir.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "journal.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sync_runs (
			id             TEXT PRIMARY KEY,
			started_at     TEXT    NOT NULL,
			duration_ms    INTEGER NOT NULL,
			success        INTEGER NOT NULL,
			failure_count  INTEGER NOT NULL DEFAULT 0,
			conflict_count INTEGER NOT NULL DEFAULT 0,
			detail         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_sync_started ON sync_runs(started_at DESC);

		CREATE TABLE IF NOT EXISTS snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at        TEXT    NOT NULL,
			status          TEXT    NOT NULL,
			error_count     INTEGER NOT NULL DEFAULT 0,
			avg_response_ms REAL    NOT NULL DEFAULT 0,
			detail          TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_snap_taken ON snapshots(taken_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// RecordSyncRun persists one sync run.
func (s *Store) RecordSyncRun(run SyncRun) error {
	if run.StartedAt == "" {
		run.StartedAt = timeNow().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO sync_runs (id, started_at, duration_ms, success, failure_count, conflict_count, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.DurationMS, boolToInt(run.Success),
		run.FailureCount, run.ConflictCount, run.Detail,
	)
	if err != nil {
		return fmt.Errorf("journal: record sync run: %w", err)
	}
	return nil
}

// RecentSyncRuns returns the most recent sync runs, newest first.
func (s *Store) RecentSyncRuns(limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, duration_ms, success, failure_count, conflict_count, COALESCE(detail, '')
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var success int
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.DurationMS, &success, &r.FailureCount, &r.ConflictCount, &r.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan sync run: %w", err)
		}
		r.Success = success != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastFullSync returns the start time of the most recent sync that
// succeeded with zero failures. ok is false when none exists.
func (s *Store) LastFullSync() (t time.Time, ok bool, err error) {
	var startedAt string
	row := s.db.QueryRow(
		`SELECT started_at FROM sync_runs
		 WHERE success = 1 AND failure_count = 0
		 ORDER BY started_at DESC LIMIT 1`,
	)
	if scanErr := row.Scan(&startedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("journal: last full sync: %w", scanErr)
	}
	parsed, parseErr := time.Parse(time.RFC3339, startedAt)
	if parseErr != nil {
		return time.Time{}, false, fmt.Errorf("journal: parsing sync time: %w", parseErr)
	}
	return parsed, true, nil
}

// RecordSnapshot persists one ecosystem snapshot summary.
func (s *Store) RecordSnapshot(snap Snapshot) error {
	if snap.TakenAt == "" {
		snap.TakenAt = timeNow().UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO snapshots (taken_at, status, error_count, avg_response_ms, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.TakenAt, snap.Status, snap.ErrorCount, snap.AvgResponseMS, snap.Detail,
	)
	if err != nil {
		return fmt.Errorf("journal: record snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns the most recent snapshots, newest first.
func (s *Store) RecentSnapshots(limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, taken_at, status, error_count, avg_response_ms, COALESCE(detail, '')
		 FROM snapshots ORDER BY taken_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.TakenAt, &snap.Status, &snap.ErrorCount, &snap.AvgResponseMS, &snap.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Stats returns aggregate journal statistics.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{}

	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(MAX(started_at), '')
		 FROM sync_runs`,
	)
	if err := row.Scan(&st.TotalSyncRuns, &st.FailedSyncRuns, &st.LastSyncAt); err != nil {
		return nil, fmt.Errorf("journal: sync stats: %w", err)
	}

	row = s.db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(taken_at), '') FROM snapshots`)
	if err := row.Scan(&st.TotalSnapshots, &st.LastSnapshotAt); err != nil {
		return nil, fmt.Errorf("journal: snapshot stats: %w", err)
	}

	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
