// Package engine 实现网格策略的核心逻辑：
// 生命周期状态机、成交模拟和风控检查。
// 策略的权威状态只存在于存储层，网格线按需从静态配置重算，不做内存缓存。
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"grid-trader-go/internal/grid"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/oracle"
	"grid-trader-go/internal/storage"

	"github.com/jxskiss/base62"
)

var (
	// ErrPriceOutOfRange 表示当前价格不在网格区间内，无法初始化
	ErrPriceOutOfRange = errors.New("engine: current price outside grid range")
	// ErrInvalidTransition 表示请求的状态流转不被允许
	ErrInvalidTransition = errors.New("engine: invalid strategy state transition")
)

// Engine 是网格交易引擎
type Engine struct {
	store  *storage.Store
	oracle oracle.Oracle

	// 同一策略的持久化状态变更必须串行：
	// 生命周期操作和调度循环可能并发触碰同一策略。
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewEngine 创建一个新的引擎实例
func NewEngine(store *storage.Store, o oracle.Oracle) *Engine {
	return &Engine{
		store:  store,
		oracle: o,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// lockStrategy 返回该策略的互斥锁（按需创建）
func (e *Engine) lockStrategy(id int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// InitializeStrategy 初始化策略并切换到RUNNING：
// 取当前价格并校验在网格区间内，生成网格线，定位价格所在区间，
// 在下方各格挂买单、上方各格挂卖单。
// 价格不可用或越界时初始化失败，策略保持STOPPED/PAUSED不变。
func (e *Engine) InitializeStrategy(id int64) error {
	l := e.lockStrategy(id)
	l.Lock()
	defer l.Unlock()

	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return err
	}
	if strat.Status == models.StrategyRunning {
		return fmt.Errorf("%w: 策略 %d 已在运行", ErrInvalidTransition, id)
	}
	return e.initializeLocked(strat)
}

// initializeLocked 执行真正的初始化，调用方必须已持有策略锁
func (e *Engine) initializeLocked(strat *models.Strategy) error {
	currentPrice, err := e.oracle.GetPrice(strat.Symbol)
	if err != nil {
		return fmt.Errorf("获取 %s 当前价格失败: %w", strat.Symbol, err)
	}

	if currentPrice < strat.LowerPrice || currentPrice > strat.UpperPrice {
		return fmt.Errorf("%w: 价格 %.2f 不在区间 [%.2f, %.2f] 内",
			ErrPriceOutOfRange, currentPrice, strat.LowerPrice, strat.UpperPrice)
	}

	levels, err := grid.GenerateLevels(strat.LowerPrice, strat.UpperPrice, strat.GridCount, strat.GridType)
	if err != nil {
		return fmt.Errorf("生成网格线失败: %w", err)
	}
	bracket := grid.FindBracket(levels, currentPrice)

	// 取消遗留挂单，确保一个干净的开始（同一网格线最多一张PENDING挂单）
	if n, err := e.store.CancelPendingOrders(strat.ID); err != nil {
		return err
	} else if n > 0 {
		logger.S().Infof("策略 %d 初始化前取消了 %d 张遗留挂单", strat.ID, n)
	}

	// 当前价格下方挂买单
	for i := 0; i < bracket; i++ {
		order := &models.Order{
			StrategyID:    strat.ID,
			ClientOrderID: newClientOrderID(strat.ID, levels[i].Level),
			GridLevel:     levels[i].Level,
			Price:         levels[i].Price,
			Side:          models.Buy,
			Quantity:      strat.OrderSize,
		}
		if _, err := e.store.CreateOrder(order); err != nil {
			return err
		}
	}

	// 当前价格上方挂卖单
	for i := bracket + 1; i < len(levels); i++ {
		order := &models.Order{
			StrategyID:    strat.ID,
			ClientOrderID: newClientOrderID(strat.ID, levels[i].Level),
			GridLevel:     levels[i].Level,
			Price:         levels[i].Price,
			Side:          models.Sell,
			Quantity:      strat.OrderSize,
		}
		if _, err := e.store.CreateOrder(order); err != nil {
			return err
		}
	}

	if err := e.store.SetStrategyRunning(strat.ID, currentPrice); err != nil {
		return err
	}

	logger.S().Infof("策略 %d 初始化完成: %d 条网格线, 当前价 %.2f 位于区间 %d, 买单 %d 张, 卖单 %d 张",
		strat.ID, len(levels), currentPrice, bracket, bracket, len(levels)-bracket-1)
	return nil
}

// PauseStrategy 暂停策略：取消全部挂单，保留持仓
func (e *Engine) PauseStrategy(id int64) error {
	l := e.lockStrategy(id)
	l.Lock()
	defer l.Unlock()

	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return err
	}
	if strat.Status != models.StrategyRunning {
		return fmt.Errorf("%w: 策略 %d 当前状态为 %s, 无法暂停", ErrInvalidTransition, id, strat.Status)
	}

	n, err := e.store.CancelPendingOrders(id)
	if err != nil {
		return err
	}
	if err := e.store.SetStrategyPaused(id); err != nil {
		return err
	}

	logger.S().Infof("策略 %d 已暂停, 取消了 %d 张挂单", id, n)
	return nil
}

// ResumeStrategy 恢复一个暂停中的策略。
// 等价于按当时的价格重新初始化，得到的区间可能与暂停前不同。
func (e *Engine) ResumeStrategy(id int64) error {
	l := e.lockStrategy(id)
	l.Lock()
	defer l.Unlock()

	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return err
	}
	if strat.Status != models.StrategyPaused {
		return fmt.Errorf("%w: 策略 %d 当前状态为 %s, 无法恢复", ErrInvalidTransition, id, strat.Status)
	}
	return e.initializeLocked(strat)
}

// StopStrategy 停止策略：取消全部挂单并记录停止时间。
// closePositions 为 true 时按最近观测价以市价方式平掉持仓，
// 平仓成交同样记入交易流水并结算已实现盈亏。
func (e *Engine) StopStrategy(id int64, closePositions bool) error {
	l := e.lockStrategy(id)
	l.Lock()
	defer l.Unlock()

	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return err
	}
	if strat.Status == models.StrategyStopped {
		return fmt.Errorf("%w: 策略 %d 已是停止状态", ErrInvalidTransition, id)
	}

	n, err := e.store.CancelPendingOrders(id)
	if err != nil {
		return err
	}

	if closePositions {
		if err := e.flattenPosition(strat); err != nil {
			return fmt.Errorf("平仓失败: %w", err)
		}
	}

	if err := e.store.SetStrategyStopped(id); err != nil {
		return err
	}

	logger.S().Infof("策略 %d 已停止, 取消了 %d 张挂单, 平仓=%v", id, n, closePositions)
	return nil
}

// flattenPosition 以最近观测价平掉策略的全部持仓
func (e *Engine) flattenPosition(strat *models.Strategy) error {
	pos, err := e.store.GetPosition(strat.ID, strat.Symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return nil // 无持仓
	}
	if err != nil {
		return err
	}
	if pos.Quantity == 0 {
		return nil
	}

	price := strat.CurrentPrice
	if price <= 0 {
		// 从未观测到价格时才退而求其次实时取一次
		price, err = e.oracle.GetPrice(strat.Symbol)
		if err != nil {
			return err
		}
	}

	qty := pos.Quantity
	side := models.Sell
	if qty < 0 {
		side = models.Buy
		qty = -qty
	}

	realized, err := e.store.UpdatePosition(strat.ID, strat.Symbol, -pos.Quantity, price, price)
	if err != nil {
		return err
	}

	trade := &models.Trade{
		StrategyID:  strat.ID,
		Symbol:      strat.Symbol,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		RealizedPnl: realized,
		Fee:         models.FeeRate * price * qty,
		TradedAt:    time.Now(),
	}
	if _, err := e.store.CreateTrade(trade); err != nil {
		return err
	}

	logger.S().Infof("策略 %d 平仓: %s %.4f @ %.2f, 已实现盈亏 %.2f",
		strat.ID, side, qty, price, realized)
	return nil
}

// GetStrategyState 返回策略的完整读视图。
// 网格线总是重新计算，不信任任何缓存；实时价格拿不到时回退到最近观测价。
func (e *Engine) GetStrategyState(id int64) (*models.StrategyState, error) {
	strat, err := e.store.GetStrategy(id)
	if err != nil {
		return nil, err
	}

	orders, err := e.store.GetStrategyOrders(id, "")
	if err != nil {
		return nil, err
	}
	stats, err := e.store.GetStrategyStats(id)
	if err != nil {
		return nil, err
	}

	currentPrice, err := e.oracle.GetPrice(strat.Symbol)
	if err != nil {
		currentPrice = strat.CurrentPrice
	}

	levels, err := grid.GenerateLevels(strat.LowerPrice, strat.UpperPrice, strat.GridCount, strat.GridType)
	if err != nil {
		return nil, err
	}

	return &models.StrategyState{
		Strategy:     strat,
		Orders:       orders,
		Stats:        stats,
		CurrentPrice: currentPrice,
		GridLevels:   levels,
	}, nil
}

// newClientOrderID 生成模拟订单的客户端订单号
func newClientOrderID(strategyID int64, level int) string {
	raw := fmt.Sprintf("%d-%d-%d", strategyID, level, time.Now().UnixNano())
	return "grid-" + base62.EncodeToString([]byte(raw))
}
