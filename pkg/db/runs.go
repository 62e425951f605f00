package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/picget/models"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one recorded top-level operation.
type Run struct {
	RunID      string
	Kind       string
	Target     string
	OutputDir  string
	OutputPath string
	CreatedAt  time.Time
	FinishedAt sql.NullTime
	Total      int
	Succeeded  int
	Skipped    int
	Failed     int
}

// RunResult is one recorded work unit.
type RunResult struct {
	Seq          int
	URL          string
	Status       string
	StatusCode   int
	ErrorType    string
	ErrorMessage string
	FilePath     string
	ContentHash  string
	SizeBytes    int64
}

// InsertRun records the start of a run.
func (db *DB) InsertRun(runID, kind, target, outputDir string, started time.Time) error {
	_, err := db.Exec(`
		INSERT INTO runs (run_id, kind, target, output_dir, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, kind, target, outputDir, started.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts of a run.
func (db *DB) FinishRun(runID string, summary models.BatchSummary, outputPath string) error {
	res, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, total = ?, succeeded = ?, skipped = ?, failed = ?, output_path = ?
		WHERE run_id = ?
	`, time.Now().UTC(), summary.Total, summary.Succeeded, summary.Skipped, summary.Failed,
		NewNullString(outputPath), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// InsertResults records every unit of a batch in one transaction.
func (db *DB) InsertResults(runID string, results []models.FetchResult) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO run_results (run_id, seq, url, status, status_code, error_type, error_message,
		                         file_path, content_hash, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		var statusCode int
		var te *models.TransportError
		if errors.As(r.Err, &te) {
			statusCode = te.StatusCode
		}
		var message string
		if r.Status != models.StatusSuccess {
			message = r.Detail
		}
		_, err := stmt.Exec(runID, r.Seq, r.Unit.URL, r.Status.String(), statusCode,
			NewNullString(models.ErrorType(r.Err)), NewNullString(message),
			NewNullString(r.Path), NewNullString(r.Fingerprint), r.Size)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", r.Unit.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

const runColumns = `run_id, kind, target, output_dir, output_path, created_at, finished_at,
	total, succeeded, skipped, failed`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var outputPath sql.NullString
	if err := row.Scan(&r.RunID, &r.Kind, &r.Target, &r.OutputDir, &outputPath, &r.CreatedAt,
		&r.FinishedAt, &r.Total, &r.Succeeded, &r.Skipped, &r.Failed); err != nil {
		return nil, err
	}
	r.OutputPath = outputPath.String
	return &r, nil
}

// GetRun retrieves a run by its ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recent run.
func (db *DB) LatestRun() (*Run, error) {
	runs, err := db.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// ListRuns retrieves runs ordered by most recent first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunResults retrieves the unit results of a run in batch order.
func (db *DB) GetRunResults(runID string) ([]RunResult, error) {
	rows, err := db.Query(`
		SELECT seq, url, status, status_code, error_type, error_message, file_path, content_hash, size_bytes
		FROM run_results
		WHERE run_id = ?
		ORDER BY seq, result_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run results: %w", err)
	}
	defer rows.Close()

	var results []RunResult
	for rows.Next() {
		var r RunResult
		var errorType, errorMessage, filePath, contentHash sql.NullString
		if err := rows.Scan(&r.Seq, &r.URL, &r.Status, &r.StatusCode, &errorType, &errorMessage,
			&filePath, &contentHash, &r.SizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.ErrorType = errorType.String
		r.ErrorMessage = errorMessage.String
		r.FilePath = filePath.String
		r.ContentHash = contentHash.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// NewNullString maps "" to NULL.
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
