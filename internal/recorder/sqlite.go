package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"MarketWarehouse/internal/model"
)

// SQLiteRecorder appends run summaries to a SQLite history database.
type SQLiteRecorder struct {
	db     *sqlx.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

type runRow struct {
	RunID       string  `db:"run_id"`
	Market      string  `db:"market"`
	StartedAt   int64   `db:"started_at"`
	Listed      int     `db:"listed"`
	Success     int     `db:"success"`
	Cache       int     `db:"cache"`
	Empty       int     `db:"empty"`
	Error       int     `db:"error"`
	Skipped     int     `db:"skipped"`
	Coverage    float64 `db:"coverage"`
	RowsChanged int64   `db:"rows_changed"`
	TotalRows   int64   `db:"total_rows"`
	StoreBytes  int64   `db:"store_bytes"`
	Maintenance bool    `db:"maintenance"`
	Uploaded    bool    `db:"uploaded"`
	Emailed     bool    `db:"emailed"`
	Err         string  `db:"err"`
	DurationMS  int64   `db:"duration_ms"`
}

// NewSQLiteRecorder opens (or creates) the history database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger zerolog.Logger) (*SQLiteRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("run history opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_history (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL,
			market       TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			listed       INTEGER,
			success      INTEGER,
			cache        INTEGER,
			empty        INTEGER,
			error        INTEGER,
			skipped      INTEGER,
			coverage     REAL,
			rows_changed INTEGER,
			total_rows   INTEGER,
			store_bytes  INTEGER,
			maintenance  INTEGER,
			uploaded     INTEGER,
			emailed      INTEGER,
			err          TEXT,
			duration_ms  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_market ON run_history(market, started_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(ctx context.Context, run model.RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := runRow{
		RunID:       run.RunID,
		Market:      run.Market,
		StartedAt:   run.StartedAt.Unix(),
		Listed:      run.Listed,
		Success:     run.Success,
		Cache:       run.Cache,
		Empty:       run.Empty,
		Error:       run.Error,
		Skipped:     run.Skipped,
		Coverage:    run.Coverage,
		RowsChanged: run.RowsChanged,
		TotalRows:   run.TotalRows,
		StoreBytes:  run.StoreBytes,
		Maintenance: run.Maintenance,
		Uploaded:    run.Uploaded,
		Emailed:     run.Emailed,
		Err:         run.Err,
		DurationMS:  run.Duration.Milliseconds(),
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO run_history
		(run_id, market, started_at, listed, success, cache, empty, error, skipped,
		 coverage, rows_changed, total_rows, store_bytes, maintenance, uploaded, emailed, err, duration_ms)
		VALUES (:run_id, :market, :started_at, :listed, :success, :cache, :empty, :error, :skipped,
		 :coverage, :rows_changed, :total_rows, :store_bytes, :maintenance, :uploaded, :emailed, :err, :duration_ms)`,
		row)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *SQLiteRecorder) Latest(ctx context.Context) ([]model.RunSummary, error) {
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows, `SELECT run_id, market, started_at, listed, success, cache, empty,
			error, skipped, coverage, rows_changed, total_rows, store_bytes, maintenance, uploaded,
			emailed, err, duration_ms
		FROM run_history
		WHERE id IN (SELECT MAX(id) FROM run_history GROUP BY market)
		ORDER BY market`)
	if err != nil {
		return nil, fmt.Errorf("select latest runs: %w", err)
	}

	out := make([]model.RunSummary, len(rows))
	for i, row := range rows {
		out[i] = model.RunSummary{
			RunID:       row.RunID,
			Market:      row.Market,
			StartedAt:   time.Unix(row.StartedAt, 0),
			Listed:      row.Listed,
			Success:     row.Success,
			Cache:       row.Cache,
			Empty:       row.Empty,
			Error:       row.Error,
			Skipped:     row.Skipped,
			Coverage:    row.Coverage,
			RowsChanged: row.RowsChanged,
			TotalRows:   row.TotalRows,
			StoreBytes:  row.StoreBytes,
			Maintenance: row.Maintenance,
			Uploaded:    row.Uploaded,
			Emailed:     row.Emailed,
			Err:         row.Err,
			Duration:    time.Duration(row.DurationMS) * time.Millisecond,
		}
	}
	return out, nil
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Debug().Msg("closing run history")
	return r.db.Close()
}
