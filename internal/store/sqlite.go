package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"MarketWarehouse/internal/model"
)

const upsertBarSQL = `INSERT INTO stock_prices (date, symbol, open, high, low, close, volume)
	VALUES (:date, :symbol, :open, :high, :low, :close, :volume)
	ON CONFLICT(date, symbol) DO UPDATE SET
		open = excluded.open, high = excluded.high, low = excluded.low,
		close = excluded.close, volume = excluded.volume
	WHERE stock_prices.open IS NOT excluded.open
		OR stock_prices.high IS NOT excluded.high
		OR stock_prices.low IS NOT excluded.low
		OR stock_prices.close IS NOT excluded.close
		OR stock_prices.volume IS NOT excluded.volume`

const upsertSymbolSQL = `INSERT INTO stock_info (symbol, name, sector, updated_at)
	VALUES (:symbol, :name, :sector, :updated_at)
	ON CONFLICT(symbol) DO UPDATE SET
		name = excluded.name, sector = excluded.sector, updated_at = excluded.updated_at`

// SQLiteStore is the Repository backed by a single SQLite file.
type SQLiteStore struct {
	db     *sqlx.DB
	path   string
	logger zerolog.Logger
	mu     sync.Mutex // serializes write transactions
}

// OpenSQLite opens (or creates) the SQLite database at path and runs migrations.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dsn := "file:" + path + "?" + url.Values{"_pragma": []string{"busy_timeout(30000)"}}.Encode()
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stock_prices (
			date   TEXT NOT NULL,
			symbol TEXT NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			volume INTEGER,
			PRIMARY KEY (date, symbol)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_symbol_date ON stock_prices(symbol, date)`,

		`CREATE TABLE IF NOT EXISTS stock_info (
			symbol     TEXT PRIMARY KEY,
			name       TEXT,
			sector     TEXT,
			updated_at TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	// Databases restored from older backups were created without a sector column.
	var cols []struct {
		Name string `db:"name"`
	}
	if err := s.db.Select(&cols, `SELECT name FROM pragma_table_info('stock_info')`); err != nil {
		return fmt.Errorf("inspect stock_info: %w", err)
	}
	for _, c := range cols {
		if c.Name == "sector" {
			return nil
		}
	}
	if _, err := s.db.Exec(`ALTER TABLE stock_info ADD COLUMN sector TEXT`); err != nil {
		return fmt.Errorf("add sector column: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertPriceBars(ctx context.Context, bars []model.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertBarSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var changed int64
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx, b)
		if err != nil {
			return 0, fmt.Errorf("upsert %s %s: %w", b.Symbol, b.Date, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		changed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

func (s *SQLiteStore) UpsertSymbols(ctx context.Context, records []model.SymbolRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertSymbolSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return fmt.Errorf("upsert symbol %s: %w", r.Symbol, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Symbols(ctx context.Context) ([]model.SymbolRecord, error) {
	var out []model.SymbolRecord
	err := s.db.SelectContext(ctx, &out, `SELECT symbol,
		COALESCE(name, '') AS name,
		COALESCE(sector, '') AS sector,
		COALESCE(updated_at, '') AS updated_at
		FROM stock_info ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("select symbols: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) RecentBars(ctx context.Context, symbol string, n int) ([]model.PriceBar, error) {
	var out []model.PriceBar
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM (
		SELECT date, symbol,
			COALESCE(open, 0) AS open, COALESCE(high, 0) AS high,
			COALESCE(low, 0) AS low, COALESCE(close, 0) AS close,
			COALESCE(volume, 0) AS volume
		FROM stock_prices WHERE symbol = ? ORDER BY date DESC LIMIT ?
	) ORDER BY date ASC`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("select bars %s: %w", symbol, err)
	}
	return out, nil
}

func (s *SQLiteStore) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM stock_prices`); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Vacuum compacts the file and folds the WAL back in so the file can be copied on its own.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	s.logger.Debug().Str("path", s.path).Msg("closing sqlite store")
	return s.db.Close()
}
