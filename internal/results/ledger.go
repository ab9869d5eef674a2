// Package results keeps a SQLite ledger of harness runs and the outcome
// of every scenario they executed.
package results

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUnknownRun is returned when a run ID is not in the ledger.
var ErrUnknownRun = errors.New("results: unknown run")

// Ledger is the run ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// BeginRun records the start of r.
func (l *Ledger) BeginRun(r *Run) error {
	_, err := l.db.Exec(`
		INSERT INTO runs (id, started_ns, seed, transport, selection)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.StartedNs, r.Seed, r.Transport, r.Selection,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Record stores one scenario outcome and returns its row ID.
func (l *Ledger) Record(s *Scenario) (int64, error) {
	result, err := l.db.Exec(`
		INSERT INTO scenario_results (run_id, name, passed, kind, step, check_name, message, calls, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Name, s.Passed, s.Kind, s.Step, s.Check, s.Message, s.Calls, s.DurationNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert scenario result: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	s.ID = id
	return id, nil
}

// FinishRun stores the end time of a run and its pass and fail counts.
func (l *Ledger) FinishRun(id string, finishedNs int64, passed, failed int) error {
	result, err := l.db.Exec(`
		UPDATE runs SET finished_ns = ?, passed = ?, failed = ? WHERE id = ?`,
		finishedNs, passed, failed, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	return nil
}

// Run returns the run with id, or nil if there is none.
func (l *Ledger) Run(id string) (*Run, error) {
	var r Run
	err := l.db.QueryRow(`
		SELECT id, started_ns, finished_ns, seed, transport, selection, passed, failed
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.StartedNs, &r.FinishedNs, &r.Seed, &r.Transport, &r.Selection, &r.Passed, &r.Failed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

// Runs returns up to limit runs, newest first.
func (l *Ledger) Runs(limit int) ([]Run, error) {
	rows, err := l.db.Query(`
		SELECT id, started_ns, finished_ns, seed, transport, selection, passed, failed
		FROM runs ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedNs, &r.FinishedNs, &r.Seed, &r.Transport, &r.Selection, &r.Passed, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Scenarios returns the outcomes of a run in execution order.
func (l *Ledger) Scenarios(runID string) ([]Scenario, error) {
	rows, err := l.db.Query(`
		SELECT id, run_id, name, passed, COALESCE(kind, ''), COALESCE(step, ''), COALESCE(check_name, ''),
		       COALESCE(message, ''), calls, duration_ns
		FROM scenario_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scenario results: %w", err)
	}
	defer rows.Close()

	var out []Scenario
	for rows.Next() {
		var s Scenario
		if err := rows.Scan(&s.ID, &s.RunID, &s.Name, &s.Passed, &s.Kind, &s.Step, &s.Check, &s.Message, &s.Calls, &s.DurationNs); err != nil {
			return nil, fmt.Errorf("scan scenario result: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FailureCounts returns how often each scenario failed across all runs.
func (l *Ledger) FailureCounts() (map[string]int, error) {
	rows, err := l.db.Query(`
		SELECT name, COUNT(*) FROM scenario_results WHERE passed = 0 GROUP BY name`)
	if err != nil {
		return nil, fmt.Errorf("query failure counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
