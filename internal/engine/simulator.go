package engine

import (
	"time"

	"grid-trader-go/internal/grid"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
)

// MarkPrice 把最新观测价写入策略并返回刷新后的策略。
// 价格快照先于风控和成交检查落库，二者用的是同一次观测。
func (e *Engine) MarkPrice(id int64, price float64) (*models.Strategy, error) {
	l := e.lockStrategy(id)
	l.Lock()
	defer l.Unlock()

	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return nil, err
	}
	if strat.Status != models.StrategyRunning {
		return strat, nil
	}
	if err := e.store.UpdateStrategyPrice(id, price); err != nil {
		return nil, err
	}
	strat.CurrentPrice = price
	return strat, nil
}

// ProcessFills 对一个运行中的策略执行一轮成交检查：
// 买单在市场价跌破挂单价时成交，卖单在市场价升破挂单价时成交，
// 成交价取观测到的市场价而非挂单价（简化建模滑点/跳空）。
// 一次价格观测可以穿过多条网格线，对应的多张挂单会在同一轮内依次成交。
// 返回本轮成交的订单数。
func (e *Engine) ProcessFills(id int64, price float64) (int, error) {
	l := e.lockStrategy(id)
	l.Lock()
	defer l.Unlock()

	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return 0, err
	}
	if strat.Status != models.StrategyRunning {
		// 本轮之内被并发停止/暂停，放弃处理
		return 0, nil
	}

	pending, err := e.store.GetStrategyOrders(id, models.OrderPending)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	levels, err := grid.GenerateLevels(strat.LowerPrice, strat.UpperPrice, strat.GridCount, strat.GridType)
	if err != nil {
		return 0, err
	}

	// 先处理完本轮全部成交，再统一补挂。
	// 同一轮内稍后才成交的挂单仍是PENDING，立刻补挂会被它占位而漏掉补单。
	filled := 0
	var replacements []replacement
	for i := range pending {
		order := &pending[i]
		shouldFill := (order.Side == models.Buy && price <= order.Price) ||
			(order.Side == models.Sell && price >= order.Price)
		if !shouldFill {
			continue
		}
		r, err := e.fillOrder(strat, order, price)
		if err != nil {
			return filled, err
		}
		filled++
		if r != nil {
			replacements = append(replacements, *r)
		}
	}

	for _, r := range replacements {
		if err := e.replenish(strat, levels, r.level, r.side, r.quantity); err != nil {
			return filled, err
		}
	}
	return filled, nil
}

// replacement 描述一张成交后待补挂的反向订单
type replacement struct {
	level    int
	side     models.Side
	quantity float64
}

// fillOrder 处理一张挂单的成交：标记FILLED、更新持仓、记录成交流水。
// 返回应补挂的反向订单（买单成交在上一格挂卖单，卖单成交在下一格挂买单），
// 成交发生在边界网格线时无单可补，返回nil。
func (e *Engine) fillOrder(strat *models.Strategy, order *models.Order, price float64) (*replacement, error) {
	now := time.Now()
	if err := e.store.FillOrder(order.ID, price, now); err != nil {
		return nil, err
	}

	delta := order.Quantity
	if order.Side == models.Sell {
		delta = -delta
	}
	realized, err := e.store.UpdatePosition(strat.ID, strat.Symbol, delta, price, price)
	if err != nil {
		return nil, err
	}

	trade := &models.Trade{
		StrategyID:  strat.ID,
		Symbol:      strat.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       price,
		RealizedPnl: realized,
		Fee:         models.FeeRate * price * order.Quantity,
		TradedAt:    now,
	}
	if _, err := e.store.CreateTrade(trade); err != nil {
		return nil, err
	}

	logger.S().Infof("策略 %d 订单 %d 成交: %s %.4f @ %.2f (网格 %d), 已实现盈亏 %.2f",
		strat.ID, order.ID, order.Side, order.Quantity, price, order.GridLevel, realized)

	switch order.Side {
	case models.Buy:
		if order.GridLevel < strat.GridCount {
			return &replacement{level: order.GridLevel + 1, side: models.Sell, quantity: order.Quantity}, nil
		}
	case models.Sell:
		if order.GridLevel > 0 {
			return &replacement{level: order.GridLevel - 1, side: models.Buy, quantity: order.Quantity}, nil
		}
	}
	return nil, nil
}

// replenish 在指定网格线补挂一张订单；该网格线已有PENDING挂单时跳过
func (e *Engine) replenish(strat *models.Strategy, levels []models.GridLevel, level int, side models.Side, quantity float64) error {
	exists, err := e.store.HasPendingOrderAtLevel(strat.ID, level)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	order := &models.Order{
		StrategyID:    strat.ID,
		ClientOrderID: newClientOrderID(strat.ID, level),
		GridLevel:     level,
		Price:         levels[level].Price,
		Side:          side,
		Quantity:      quantity,
	}
	if _, err := e.store.CreateOrder(order); err != nil {
		return err
	}
	logger.S().Debugf("策略 %d 在网格 %d 补挂 %s 单 @ %.2f", strat.ID, level, side, levels[level].Price)
	return nil
}
