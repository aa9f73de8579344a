package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "grid-trader/internal/errors"
	"grid-trader/internal/models"
)

// SQLiteStore implements Store using SQLite, as an alternative to the JSON
// document for deployments that want queryable history.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite-based history store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the trades table and index.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		open_order_id TEXT NOT NULL,
		side TEXT NOT NULL,
		open_price REAL NOT NULL,
		open_time DATETIME NOT NULL,
		close_price REAL NOT NULL,
		close_time DATETIME NOT NULL,
		size REAL NOT NULL,
		profit REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append inserts the record.
func (s *SQLiteStore) Append(record models.TradeRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO trades (open_order_id, side, open_price, open_time, close_price, close_time, size, profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.OpenOrderID, string(record.Side), record.OpenPrice, record.OpenTime,
		record.ClosePrice, record.CloseTime, record.Size, record.Profit,
	)
	if err != nil {
		return apperrors.NewPersistenceError(s.path, err)
	}
	return nil
}

// All returns the complete history ordered by insertion.
func (s *SQLiteStore) All() ([]models.TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT open_order_id, side, open_price, open_time, close_price, close_time, size, profit
		FROM trades ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewPersistenceError(s.path, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// Recent returns the last n records in chronological order.
func (s *SQLiteStore) Recent(n int) ([]models.TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT open_order_id, side, open_price, open_time, close_price, close_time, size, profit
		FROM (SELECT * FROM trades ORDER BY id DESC LIMIT ?) ORDER BY id`, n)
	if err != nil {
		return nil, apperrors.NewPersistenceError(s.path, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// RealizedPnl returns the sum of profit over the whole history.
func (s *SQLiteStore) RealizedPnl() (float64, error) {
	var total sql.NullFloat64
	if err := s.db.QueryRow(`SELECT SUM(profit) FROM trades`).Scan(&total); err != nil {
		return 0, apperrors.NewPersistenceError(s.path, err)
	}
	return total.Float64, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanTrades(rows *sql.Rows) ([]models.TradeRecord, error) {
	var records []models.TradeRecord
	for rows.Next() {
		var r models.TradeRecord
		var side string
		if err := rows.Scan(&r.OpenOrderID, &side, &r.OpenPrice, &r.OpenTime,
			&r.ClosePrice, &r.CloseTime, &r.Size, &r.Profit); err != nil {
			return nil, err
		}
		r.Side = models.OrderSide(side)
		records = append(records, r)
	}
	return records, rows.Err()
}
