package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grid-trader-go/internal/models"
)

const strategyColumns = `id, symbol, name, grid_type, lower_price, upper_price, grid_count,
	capital, order_size_type, order_size, take_profit, stop_loss, paper_trading,
	status, current_price, created_at, updated_at, started_at, stopped_at`

// CreateStrategy inserts a new strategy in STOPPED state and returns its id.
func (s *Store) CreateStrategy(strat *models.Strategy) (int64, error) {
	now := time.Now()
	if strat.GridType == "" {
		strat.GridType = models.GridArithmetic
	}
	if strat.OrderSizeType == "" {
		strat.OrderSizeType = models.OrderSizeFixed
	}
	strat.Status = models.StrategyStopped
	strat.CreatedAt = now
	strat.UpdatedAt = now

	query := `
	INSERT INTO strategies
	(symbol, name, grid_type, lower_price, upper_price, grid_count, capital,
	 order_size_type, order_size, take_profit, stop_loss, paper_trading,
	 status, current_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.Exec(query,
		strat.Symbol, strat.Name, string(strat.GridType),
		strat.LowerPrice, strat.UpperPrice, strat.GridCount, strat.Capital,
		string(strat.OrderSizeType), strat.OrderSize,
		nullableFloat(strat.TakeProfit), nullableFloat(strat.StopLoss),
		boolToInt(strat.PaperTrading),
		string(models.StrategyStopped), strat.CurrentPrice,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read strategy id: %w", err)
	}
	strat.ID = id
	return id, nil
}

// GetStrategy retrieves a strategy by id, ErrNotFound if it does not exist.
func (s *Store) GetStrategy(id int64) (*models.Strategy, error) {
	row := s.db.QueryRow(`SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id)
	strat, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan strategy %d: %w", id, err)
	}
	return strat, nil
}

// ListStrategies returns all strategies, optionally filtered by status.
// Pass an empty status for no filter.
func (s *Store) ListStrategies(status models.StrategyStatus) ([]models.Strategy, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.Query(`SELECT `+strategyColumns+
			` FROM strategies WHERE status = ? ORDER BY created_at DESC, id DESC`, string(status))
	} else {
		rows, err = s.db.Query(`SELECT ` + strategyColumns +
			` FROM strategies ORDER BY created_at DESC, id DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var out []models.Strategy
	for rows.Next() {
		strat, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy row: %w", err)
		}
		out = append(out, *strat)
	}
	return out, rows.Err()
}

// SetStrategyRunning flips the strategy to RUNNING, recording the observed
// price and the start timestamp.
func (s *Store) SetStrategyRunning(id int64, currentPrice float64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
	UPDATE strategies
	SET status = ?, current_price = ?, started_at = ?, updated_at = ?
	WHERE id = ?`,
		string(models.StrategyRunning), currentPrice, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark strategy %d running: %w", id, err)
	}
	return nil
}

// SetStrategyPaused flips the strategy to PAUSED. Positions are untouched.
func (s *Store) SetStrategyPaused(id int64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
	UPDATE strategies SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.StrategyPaused), now, id)
	if err != nil {
		return fmt.Errorf("failed to mark strategy %d paused: %w", id, err)
	}
	return nil
}

// SetStrategyStopped flips the strategy to STOPPED and records the stop time.
func (s *Store) SetStrategyStopped(id int64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
	UPDATE strategies SET status = ?, stopped_at = ?, updated_at = ? WHERE id = ?`,
		string(models.StrategyStopped), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark strategy %d stopped: %w", id, err)
	}
	return nil
}

// UpdateStrategyPrice persists the latest observed market price.
func (s *Store) UpdateStrategyPrice(id int64, price float64) error {
	now := time.Now().Unix()
	_, err := s.db.Exec(`
	UPDATE strategies SET current_price = ?, updated_at = ? WHERE id = ?`,
		price, now, id)
	if err != nil {
		return fmt.Errorf("failed to update strategy %d price: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStrategy(row rowScanner) (*models.Strategy, error) {
	var (
		strat                 models.Strategy
		gridType, sizeType    string
		status                string
		takeProfit, stopLoss  sql.NullFloat64
		paper                 int
		createdAt, updatedAt  int64
		startedAt, stoppedAt  sql.NullInt64
	)
	err := row.Scan(
		&strat.ID, &strat.Symbol, &strat.Name, &gridType,
		&strat.LowerPrice, &strat.UpperPrice, &strat.GridCount, &strat.Capital,
		&sizeType, &strat.OrderSize, &takeProfit, &stopLoss, &paper,
		&status, &strat.CurrentPrice, &createdAt, &updatedAt, &startedAt, &stoppedAt,
	)
	if err != nil {
		return nil, err
	}
	strat.GridType = models.GridType(gridType)
	strat.OrderSizeType = models.OrderSizeType(sizeType)
	strat.Status = models.StrategyStatus(status)
	strat.TakeProfit = floatPtr(takeProfit)
	strat.StopLoss = floatPtr(stopLoss)
	strat.PaperTrading = paper != 0
	strat.CreatedAt = time.Unix(createdAt, 0)
	strat.UpdatedAt = time.Unix(updatedAt, 0)
	strat.StartedAt = timePtr(startedAt)
	strat.StoppedAt = timePtr(stoppedAt)
	return &strat, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
