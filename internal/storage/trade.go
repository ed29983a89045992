package storage

import (
	"fmt"
	"time"

	"grid-trader-go/internal/models"
)

// CreateTrade appends a trade record.
func (s *Store) CreateTrade(t *models.Trade) (int64, error) {
	if t.TradedAt.IsZero() {
		t.TradedAt = time.Now()
	}
	res, err := s.db.Exec(`
	INSERT INTO trades
	(strategy_id, symbol, side, quantity, price, realized_pnl, fee, traded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StrategyID, t.Symbol, string(t.Side), t.Quantity, t.Price,
		t.RealizedPnl, t.Fee, t.TradedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for strategy %d: %w", t.StrategyID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}
	t.ID = id
	return id, nil
}

// GetStrategyTrades returns all trades of a strategy, newest first.
func (s *Store) GetStrategyTrades(strategyID int64) ([]models.Trade, error) {
	rows, err := s.db.Query(`
	SELECT id, strategy_id, symbol, side, quantity, price, realized_pnl, fee, traded_at
	FROM trades WHERE strategy_id = ? ORDER BY traded_at DESC, id DESC`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades of strategy %d: %w", strategyID, err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var (
			t        models.Trade
			side     string
			tradedAt int64
		)
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.Symbol, &side,
			&t.Quantity, &t.Price, &t.RealizedPnl, &t.Fee, &tradedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Side = models.Side(side)
		t.TradedAt = time.Unix(tradedAt, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetStrategyStats aggregates trade and position figures for a strategy.
// WinRate is the fraction of trades with positive realized PnL (0 with no trades).
func (s *Store) GetStrategyStats(strategyID int64) (models.StrategyStats, error) {
	var (
		stats models.StrategyStats
		wins  int
	)

	err := s.db.QueryRow(`
	SELECT COUNT(*),
	       COALESCE(SUM(realized_pnl), 0),
	       COALESCE(SUM(fee), 0),
	       COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0)
	FROM trades WHERE strategy_id = ?`, strategyID).Scan(
		&stats.TotalTrades, &stats.RealizedPnl, &stats.TotalFees, &wins)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate trades of strategy %d: %w", strategyID, err)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(wins) / float64(stats.TotalTrades)
	}

	err = s.db.QueryRow(`
	SELECT COALESCE(SUM(quantity), 0) FROM positions WHERE strategy_id = ?`,
		strategyID).Scan(&stats.CurrentPosition)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate position of strategy %d: %w", strategyID, err)
	}
	return stats, nil
}
