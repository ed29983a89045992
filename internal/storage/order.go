package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grid-trader-go/internal/models"
)

const orderColumns = `id, strategy_id, client_order_id, grid_level, price, side,
	quantity, status, filled_price, filled_at, created_at`

// CreateOrder inserts a new PENDING order and returns its id.
// The partial unique index on (strategy_id, grid_level) rejects a second
// PENDING order at the same level.
func (s *Store) CreateOrder(o *models.Order) (int64, error) {
	now := time.Now()
	o.Status = models.OrderPending
	o.CreatedAt = now

	query := `
	INSERT INTO orders
	(strategy_id, client_order_id, grid_level, price, side, quantity, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.Exec(query,
		o.StrategyID, o.ClientOrderID, o.GridLevel, o.Price,
		string(o.Side), o.Quantity, string(models.OrderPending), now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order for strategy %d level %d: %w",
			o.StrategyID, o.GridLevel, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read order id: %w", err)
	}
	o.ID = id
	return id, nil
}

// FillOrder marks an order FILLED at the observed market price.
func (s *Store) FillOrder(id int64, filledPrice float64, filledAt time.Time) error {
	_, err := s.db.Exec(`
	UPDATE orders SET status = ?, filled_price = ?, filled_at = ? WHERE id = ?`,
		string(models.OrderFilled), filledPrice, filledAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to fill order %d: %w", id, err)
	}
	return nil
}

// CancelOrder marks a single order CANCELLED.
func (s *Store) CancelOrder(id int64) error {
	_, err := s.db.Exec(`UPDATE orders SET status = ? WHERE id = ?`,
		string(models.OrderCancelled), id)
	if err != nil {
		return fmt.Errorf("failed to cancel order %d: %w", id, err)
	}
	return nil
}

// CancelPendingOrders cancels every PENDING order of a strategy and returns
// how many were cancelled.
func (s *Store) CancelPendingOrders(strategyID int64) (int, error) {
	res, err := s.db.Exec(`
	UPDATE orders SET status = ? WHERE strategy_id = ? AND status = ?`,
		string(models.OrderCancelled), strategyID, string(models.OrderPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending orders of strategy %d: %w", strategyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetStrategyOrders returns a strategy's orders ordered by grid level,
// optionally filtered by status (empty status means all).
func (s *Store) GetStrategyOrders(strategyID int64, status models.OrderStatus) ([]models.Order, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.Query(`SELECT `+orderColumns+`
		FROM orders WHERE strategy_id = ? AND status = ? ORDER BY grid_level`,
			strategyID, string(status))
	} else {
		rows, err = s.db.Query(`SELECT `+orderColumns+`
		FROM orders WHERE strategy_id = ? ORDER BY grid_level`, strategyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query orders of strategy %d: %w", strategyID, err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// GetOrder retrieves a single order by id.
func (s *Store) GetOrder(id int64) (*models.Order, error) {
	row := s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order %d: %w", id, err)
	}
	return o, nil
}

// CountPendingOrders returns the number of PENDING orders of a strategy.
func (s *Store) CountPendingOrders(strategyID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
	SELECT COUNT(*) FROM orders WHERE strategy_id = ? AND status = ?`,
		strategyID, string(models.OrderPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending orders of strategy %d: %w", strategyID, err)
	}
	return n, nil
}

// HasPendingOrderAtLevel reports whether a PENDING order already rests at the
// given grid level.
func (s *Store) HasPendingOrderAtLevel(strategyID int64, level int) (bool, error) {
	var n int
	err := s.db.QueryRow(`
	SELECT COUNT(*) FROM orders WHERE strategy_id = ? AND grid_level = ? AND status = ?`,
		strategyID, level, string(models.OrderPending)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending order at level %d: %w", level, err)
	}
	return n > 0, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o           models.Order
		side        string
		status      string
		filledPrice sql.NullFloat64
		filledAt    sql.NullInt64
		createdAt   int64
	)
	err := row.Scan(
		&o.ID, &o.StrategyID, &o.ClientOrderID, &o.GridLevel, &o.Price, &side,
		&o.Quantity, &status, &filledPrice, &filledAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	o.Side = models.Side(side)
	o.Status = models.OrderStatus(status)
	if filledPrice.Valid {
		o.FilledPrice = filledPrice.Float64
	}
	o.FilledAt = timePtr(filledAt)
	o.CreatedAt = time.Unix(createdAt, 0)
	return &o, nil
}
