// Package storage is the durable store for strategies, orders, positions and
// trades. All reads and writes go through *Store; nothing in here caches state
// between calls, the database row is the single source of truth.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection and creates the tables.
func Open(dataSourceName string) (*Store, error) {
	if dir := filepath.Dir(dataSourceName); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; serializing on one connection avoids
	// SQLITE_BUSY under concurrent lifecycle calls and scheduler ticks.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createStrategiesTableSQL := `
	CREATE TABLE IF NOT EXISTS strategies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		name TEXT,
		grid_type TEXT NOT NULL DEFAULT 'ARITHMETIC',
		lower_price REAL NOT NULL,
		upper_price REAL NOT NULL,
		grid_count INTEGER NOT NULL,
		capital REAL NOT NULL,
		order_size_type TEXT NOT NULL DEFAULT 'FIXED',
		order_size REAL NOT NULL,
		take_profit REAL,
		stop_loss REAL,
		paper_trading INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'STOPPED',
		current_price REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		started_at INTEGER,
		stopped_at INTEGER
	);`
	if _, err := db.Exec(createStrategiesTableSQL); err != nil {
		return err
	}

	createOrdersTableSQL := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL,
		client_order_id TEXT NOT NULL,
		grid_level INTEGER NOT NULL,
		price REAL NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		filled_price REAL,
		filled_at INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (strategy_id) REFERENCES strategies(id)
	);`
	if _, err := db.Exec(createOrdersTableSQL); err != nil {
		return err
	}

	createPositionsTableSQL := `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		quantity REAL NOT NULL,
		avg_price REAL NOT NULL,
		current_price REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (strategy_id) REFERENCES strategies(id)
	);`
	if _, err := db.Exec(createPositionsTableSQL); err != nil {
		return err
	}

	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		traded_at INTEGER NOT NULL,
		FOREIGN KEY (strategy_id) REFERENCES strategies(id)
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	indexSQL := []string{
		`CREATE INDEX IF NOT EXISTS idx_strategies_symbol ON strategies(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_status ON strategies(status);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_id);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
		// At most one PENDING order may rest at a grid level of a strategy.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_pending_level
			ON orders(strategy_id, grid_level) WHERE status = 'PENDING';`,
		`CREATE INDEX IF NOT EXISTS idx_positions_strategy ON positions(strategy_id);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);`,
	}
	for _, q := range indexSQL {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// nullableUnix converts an optional time into a nullable unix timestamp.
func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// nullableFloat converts an optional float into its sql counterpart.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
