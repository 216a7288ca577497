// Package store is the embedded relational store behind the sync layer.
//
// It holds the working copy of every scenario's planning entities in
// SQLite (ncruces/go-sqlite3, embedded, WAL mode). The sync layer reads
// full snapshots out of it for export and writes merged snapshots back
// in after a session commits; the daemon keeps it in step with bundle
// files edited out of band.
//
// Each entity type gets its own table with the full record as a JSON
// payload column. Assignments additionally break out the columns the
// allocation queries filter on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/openplanning/scensync/internal/model"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// tables maps entity types to their table names.
var tables = map[model.EntityType]string{
	model.TypeProject:      "projects",
	model.TypePerson:       "people",
	model.TypeAssignment:   "assignments",
	model.TypeProjectPhase: "project_phases",
	model.TypeRole:         "roles",
	model.TypeLocation:     "locations",
	model.TypeProjectType:  "project_types",
}

// Open opens (creating if necessary) the store at path.
//
// The database runs in embedded mode with WAL so the daemon can write
// while CLI queries read. The caller must Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS projects (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,  -- full record JSON
		PRIMARY KEY (scenario_id, id)
	);
	CREATE TABLE IF NOT EXISTS people (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,
		PRIMARY KEY (scenario_id, id)
	);
	CREATE TABLE IF NOT EXISTS assignments (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,

		-- Broken out for allocation queries
		person_id TEXT,
		project_id TEXT,
		allocation_percentage REAL,
		start_date TEXT,
		end_date TEXT,

		PRIMARY KEY (scenario_id, id)
	);
	CREATE TABLE IF NOT EXISTS project_phases (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,
		PRIMARY KEY (scenario_id, id)
	);
	CREATE TABLE IF NOT EXISTS roles (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,
		PRIMARY KEY (scenario_id, id)
	);
	CREATE TABLE IF NOT EXISTS locations (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,
		PRIMARY KEY (scenario_id, id)
	);
	CREATE TABLE IF NOT EXISTS project_types (
		scenario_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT,
		data TEXT NOT NULL,
		PRIMARY KEY (scenario_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_person
	    ON assignments(scenario_id, person_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_project
	    ON assignments(scenario_id, project_id);
	CREATE INDEX IF NOT EXISTS idx_assignments_dates
	    ON assignments(scenario_id, person_id, start_date, end_date);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ReplaceAll atomically replaces one entity type's records for a
// scenario. The whole replacement happens in a single transaction; a
// failed insert rolls back to the previous state.
func (s *Store) ReplaceAll(ctx context.Context, scenarioID string, t model.EntityType, records []model.Record) error {
	table, ok := tables[t]
	if !ok {
		return fmt.Errorf("unknown entity type %v", t)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE scenario_id = ?", table), scenarioID); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}

	for _, rec := range records {
		if err := insertRecord(ctx, tx, table, scenarioID, t, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s replacement: %w", table, err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, table, scenarioID string, t model.EntityType, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", t, rec.ID(), err)
	}
	name, _ := rec["name"].(string)

	if t == model.TypeAssignment {
		personID, _ := rec["personId"].(string)
		projectID, _ := rec["projectId"].(string)
		start, _ := rec["startDate"].(string)
		end, _ := rec["endDate"].(string)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assignments (
				scenario_id, id, name, data,
				person_id, project_id, allocation_percentage, start_date, end_date
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scenarioID, rec.ID(), name, string(data),
			personID, projectID, allocationValue(rec), start, end)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (scenario_id, id, name, data) VALUES (?, ?, ?, ?)", table),
			scenarioID, rec.ID(), name, string(data))
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", t, rec.ID(), err)
	}
	return nil
}

func allocationValue(rec model.Record) float64 {
	switch v := rec["allocationPercentage"].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Records reads one entity type's records for a scenario, ordered by id.
func (s *Store) Records(ctx context.Context, scenarioID string, t model.EntityType) ([]model.Record, error) {
	table, ok := tables[t]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %v", t)
	}

	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		"SELECT data FROM %s WHERE scenario_id = ? ORDER BY id", table), scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		rec, err := model.DecodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", t, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Snapshot reads every entity of one scenario, grouped by type. Types
// with no records are omitted.
func (s *Store) Snapshot(ctx context.Context, scenarioID string) (model.Snapshot, error) {
	snap := make(model.Snapshot)
	for _, t := range model.EntityTypes() {
		records, err := s.Records(ctx, scenarioID, t)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			snap[t] = records
		}
	}
	return snap, nil
}

// Scenarios lists every scenario id present in the store, sorted.
func (s *Store) Scenarios(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, table := range tables {
		rows, err := s.conn.QueryContext(ctx,
			fmt.Sprintf("SELECT DISTINCT scenario_id FROM %s", table))
		if err != nil {
			return nil, fmt.Errorf("failed to list scenarios in %s: %w", table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			seen[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Counts returns the number of records per entity type for a scenario.
func (s *Store) Counts(ctx context.Context, scenarioID string) (map[model.EntityType]int, error) {
	counts := make(map[model.EntityType]int, len(tables))
	for _, t := range model.EntityTypes() {
		var n int
		err := s.conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE scenario_id = ?", tables[t]), scenarioID).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t, err)
		}
		counts[t] = n
	}
	return counts, nil
}

// PersonAllocation is one person's allocation total over assignments
// overlapping a date range.
type PersonAllocation struct {
	PersonID        string
	TotalAllocation float64
	AssignmentCount int
}

// OverAllocated returns people whose summed allocation across
// assignments overlapping [start, end] exceeds 100%, ordered worst
// first. Used by the status command to flag existing over-allocations
// before a merge even starts.
func (s *Store) OverAllocated(ctx context.Context, scenarioID string, start, end model.Date) ([]PersonAllocation, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT person_id, SUM(allocation_percentage), COUNT(*)
		FROM assignments
		WHERE scenario_id = ?
		  AND person_id != ''
		  AND start_date <= ?
		  AND end_date >= ?
		GROUP BY person_id
		HAVING SUM(allocation_percentage) > 100
		ORDER BY SUM(allocation_percentage) DESC`,
		scenarioID, end.String(), start.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []PersonAllocation
	for rows.Next() {
		var pa PersonAllocation
		if err := rows.Scan(&pa.PersonID, &pa.TotalAllocation, &pa.AssignmentCount); err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}
