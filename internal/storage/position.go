package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"grid-trader-go/internal/models"
)

// GetPosition retrieves the position of a strategy on a symbol.
func (s *Store) GetPosition(strategyID int64, symbol string) (*models.Position, error) {
	row := s.db.QueryRow(`
	SELECT id, strategy_id, symbol, quantity, avg_price, current_price,
	       unrealized_pnl, created_at, updated_at
	FROM positions WHERE strategy_id = ? AND symbol = ?`, strategyID, symbol)

	var (
		p                    models.Position
		createdAt, updatedAt int64
	)
	err := row.Scan(&p.ID, &p.StrategyID, &p.Symbol, &p.Quantity, &p.AvgPrice,
		&p.CurrentPrice, &p.UnrealizedPnl, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position of strategy %d: %w", strategyID, err)
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// UpdatePosition applies a signed quantity delta (positive for BUY fills,
// negative for SELL fills) at the given fill price and returns the realized
// PnL of the closed portion.
//
// Cost basis follows the signed weighted-average model: a fill in the
// direction of the position blends the fill price into the average, a fill
// against the position keeps the average, realizes
// (fill - avg) * closed * sign(position) and, if the position flips through
// zero, restarts the basis at the fill price. A position whose quantity
// returns to exactly zero is deleted.
func (s *Store) UpdatePosition(strategyID int64, symbol string, delta, fillPrice, currentPrice float64) (float64, error) {
	if delta == 0 {
		return 0, nil
	}
	now := time.Now().Unix()

	pos, err := s.GetPosition(strategyID, symbol)
	if errors.Is(err, ErrNotFound) {
		// New position, nothing realized.
		unrealized := (currentPrice - fillPrice) * delta
		_, err := s.db.Exec(`
		INSERT INTO positions
		(strategy_id, symbol, quantity, avg_price, current_price, unrealized_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			strategyID, symbol, delta, fillPrice, currentPrice, unrealized, now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert position: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	oldQty, oldAvg := pos.Quantity, pos.AvgPrice
	newQty := oldQty + delta

	var realized, newAvg float64
	switch {
	case oldQty*delta >= 0:
		// Same direction: blend the cost basis, nothing realized.
		newAvg = (oldQty*oldAvg + delta*fillPrice) / newQty
	case math.Abs(delta) <= math.Abs(oldQty):
		// Reducing fill: basis unchanged on the remainder.
		closed := math.Abs(delta)
		realized = (fillPrice - oldAvg) * closed * sign(oldQty)
		newAvg = oldAvg
	default:
		// Fill flips the position: close all of the old side, the excess
		// opens at the fill price.
		closed := math.Abs(oldQty)
		realized = (fillPrice - oldAvg) * closed * sign(oldQty)
		newAvg = fillPrice
	}

	if newQty == 0 {
		if _, err := s.db.Exec(`DELETE FROM positions WHERE id = ?`, pos.ID); err != nil {
			return 0, fmt.Errorf("failed to delete flat position %d: %w", pos.ID, err)
		}
		return realized, nil
	}

	unrealized := (currentPrice - newAvg) * newQty
	_, err = s.db.Exec(`
	UPDATE positions
	SET quantity = ?, avg_price = ?, current_price = ?, unrealized_pnl = ?, updated_at = ?
	WHERE id = ?`,
		newQty, newAvg, currentPrice, unrealized, now, pos.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update position %d: %w", pos.ID, err)
	}
	return realized, nil
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
