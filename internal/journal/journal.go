package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Status of a recorded run.
type Status string

const (
	StatusDone        Status = "done"
	StatusError       Status = "error"
	StatusConfigError Status = "config_error"
)

// Run is one executor invocation.
type Run struct {
	ID           int64
	HashID       string
	TaskID       string
	Status       Status
	ExitCode     *int
	Error        string
	Command      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
	CreatedTasks []string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	HashID string
	Status Status
	Limit  int
}

// Journal is the SQLite-backed run log.
type Journal struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database and applies migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends a run.
func (j *Journal) Record(ctx context.Context, run Run) error {
	if j == nil || j.db == nil {
		return nil
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}
	if run.Duration == 0 {
		run.Duration = run.FinishedAt.Sub(run.StartedAt)
	}
	var exitCode any
	if run.ExitCode != nil {
		exitCode = *run.ExitCode
	}
	_, err := j.db.ExecContext(
		ctx,
		`INSERT INTO task_runs (
            hash_id, task_id, status, exit_code, error_message, command,
            started_at, finished_at, duration_ms, created_tasks
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.HashID,
		run.TaskID,
		string(run.Status),
		exitCode,
		nullableString(run.Error),
		nullableString(run.Command),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		strings.Join(run.CreatedTasks, ","),
	)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	return nil
}

// List returns runs newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Run, error) {
	query := `SELECT id, hash_id, task_id, status, exit_code, error_message, command,
        started_at, finished_at, duration_ms, created_tasks FROM task_runs`
	var (
		clauses []string
		args    []any
	)
	if filter.HashID != "" {
		clauses = append(clauses, "hash_id = ?")
		args = append(args, filter.HashID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task runs: %w", err)
	}
	return runs, nil
}

// Stats counts runs per status.
func (j *Journal) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM task_runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("query run stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run        Run
		status     string
		exitCode   sql.NullInt64
		errMsg     sql.NullString
		command    sql.NullString
		startedAt  string
		finishedAt string
		durationMS int64
		created    string
	)
	if err := rows.Scan(&run.ID, &run.HashID, &run.TaskID, &status, &exitCode, &errMsg, &command,
		&startedAt, &finishedAt, &durationMS, &created); err != nil {
		return Run{}, fmt.Errorf("scan task run: %w", err)
	}
	run.Status = Status(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	run.Error = errMsg.String
	run.Command = command.String
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if created != "" {
		run.CreatedTasks = strings.Split(created, ",")
	}
	return run, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
