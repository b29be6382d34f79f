package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"supplier_ingest/models"
)

// SQLiteStore keeps the local history of batch jobs and their log lines.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		supplier TEXT,
		scope TEXT,
		target TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		total INTEGER DEFAULT 0,
		created INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		supplier TEXT
	);

	CREATE TABLE IF NOT EXISTS supplier_stats (
		supplier TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_created INTEGER,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (supplier, scope, target, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.Supplier, run.Scope, run.Target, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET finished_at = ?, status = ?, total = ?,
			created = ?, skipped = ?, failed = ?, error_message = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Total, run.Created,
		run.Skipped, run.Failed, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(id int64) (*models.ScrapeRun, error) {
	row := s.db.QueryRow(`
		SELECT id, supplier, scope, target, started_at, finished_at, status,
			total, created, skipped, failed, error_message
		FROM scrape_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs of a supplier, newest first.
func (s *SQLiteStore) ListRuns(supplier string, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, supplier, scope, target, started_at, finished_at, status,
			total, created, skipped, failed, error_message
		FROM scrape_runs WHERE supplier = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, supplier, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Supplier, &run.Scope, &run.Target, &run.StartedAt, &finished,
		&run.Status, &run.Total, &run.Created, &run.Skipped, &run.Failed, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, supplier string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, supplier)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, supplier)
	return err
}

func (s *SQLiteStore) GetRunLogs(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, supplier
		FROM scrape_logs WHERE run_id = ? ORDER BY timestamp, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var run sql.NullInt64
		if err := rows.Scan(&l.ID, &run, &l.Timestamp, &l.Level, &l.Message, &l.Supplier); err != nil {
			return nil, err
		}
		if run.Valid {
			id := run.Int64
			l.RunID = &id
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) UpdateSupplierStats(supplier string) error {
	_, err := s.db.Exec(`
		INSERT INTO supplier_stats (supplier, last_run_at, last_run_status, total_created,
			success_rate, avg_run_duration_sec)
		SELECT
			?,
			COALESCE(
				(SELECT started_at FROM scrape_runs WHERE supplier = ? AND status = 'completed' ORDER BY started_at DESC LIMIT 1),
				(SELECT started_at FROM scrape_runs WHERE supplier = ? ORDER BY started_at DESC LIMIT 1)
			),
			(SELECT status FROM scrape_runs WHERE supplier = ? ORDER BY started_at DESC LIMIT 1),
			(SELECT COALESCE(SUM(created), 0) FROM scrape_runs WHERE supplier = ?),
			(SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0) FROM scrape_runs WHERE supplier = ?),
			(SELECT AVG(CAST((julianday(finished_at) - julianday(started_at)) * 86400 AS INTEGER))
				FROM scrape_runs WHERE supplier = ? AND finished_at IS NOT NULL)
		ON CONFLICT(supplier) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_created = excluded.total_created,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		supplier, supplier, supplier, supplier, supplier, supplier, supplier)
	return err
}

// GetSupplierStats returns the aggregated stats of a supplier, nil if it has
// never run.
func (s *SQLiteStore) GetSupplierStats(supplier string) (*models.SupplierStats, error) {
	var (
		st       models.SupplierStats
		lastRun  sql.NullTime
		status   sql.NullString
		created  sql.NullInt64
		rate     sql.NullFloat64
		duration sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT supplier, last_run_at, last_run_status, total_created,
			success_rate, avg_run_duration_sec
		FROM supplier_stats WHERE supplier = ?`, supplier).
		Scan(&st.Supplier, &lastRun, &status, &created, &rate, &duration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		st.LastRunAt = &lastRun.Time
	}
	st.LastRunStatus = models.RunStatus(status.String)
	st.TotalCreated = int(created.Int64)
	st.SuccessRate = rate.Float64
	st.AvgRunDurationSec = int(duration.Int64)
	return &st, nil
}

// GetLastRunTime returns the start of the last site scrape, zero if none.
func (s *SQLiteStore) GetLastRunTime(supplier string) (time.Time, error) {
	var lastRun time.Time
	err := s.db.QueryRow(`
		SELECT started_at FROM scrape_runs WHERE supplier = ? AND scope = ?
		ORDER BY started_at DESC LIMIT 1`,
		supplier, models.ScopeSite).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return lastRun, err
}
