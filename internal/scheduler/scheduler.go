// Package scheduler 驱动所有运行中的策略随时间推进。
// 它是唯一周期性推进策略的写入方；生命周期操作由控制接口同步触发。
package scheduler

import (
	"context"
	"errors"
	"time"

	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/oracle"
	"grid-trader-go/internal/storage"
)

// Watcher 可选地为标的维持实时行情流（由行情源实现）
type Watcher interface {
	Watch(symbol string)
}

// Scheduler 是周期性的调度循环
type Scheduler struct {
	store    *storage.Store
	engine   *engine.Engine
	oracle   oracle.Oracle
	interval time.Duration
	watcher  Watcher // 可为nil
}

// New 创建调度循环实例
func New(store *storage.Store, eng *engine.Engine, o oracle.Oracle, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		engine:   eng,
		oracle:   o,
		interval: interval,
	}
}

// SetWatcher 注入行情流维护器（可选）
func (s *Scheduler) SetWatcher(w Watcher) {
	s.watcher = w
}

// Run 阻塞运行调度循环，直到context被取消。
// 每个周期对所有RUNNING策略依次执行：取价 -> 风控 -> 成交检查。
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.S().Infof("调度循环已启动, 检查间隔 %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			logger.S().Info("调度循环已停止")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick 执行一轮调度。单个策略的失败只影响它自己，
// 记录日志后继续处理本轮剩余的策略。
func (s *Scheduler) Tick() {
	strategies, err := s.store.ListStrategies(models.StrategyRunning)
	if err != nil {
		logger.S().Errorf("读取运行中策略失败: %v", err)
		return
	}

	for i := range strategies {
		strat := &strategies[i]
		if err := s.processStrategy(strat); err != nil {
			logger.S().Errorf("策略 %d (%s) 本轮处理失败: %v", strat.ID, strat.Symbol, err)
		}
	}
}

// processStrategy 处理单个策略的一轮推进
func (s *Scheduler) processStrategy(strat *models.Strategy) error {
	price, err := s.oracle.GetPrice(strat.Symbol)
	if errors.Is(err, oracle.ErrPriceUnavailable) {
		// 价格缺失不是错误：本轮跳过，下一轮再试
		logger.S().Debugf("策略 %d: %s 暂无可用价格, 本轮跳过", strat.ID, strat.Symbol)
		return nil
	}
	if err != nil {
		return err
	}

	if s.watcher != nil {
		s.watcher.Watch(strat.Symbol)
	}

	strat, err = s.engine.MarkPrice(strat.ID, price)
	if err != nil {
		return err
	}
	if strat.Status != models.StrategyRunning {
		// 取价期间被并发停止/暂停
		return nil
	}

	safe, reason, err := s.engine.CheckRiskControls(strat)
	if err != nil {
		return err
	}
	if !safe {
		// 风控命中：强制停止策略，这是被恢复的状况而非进程级错误
		logger.S().Warnf("策略 %d 触发风控, 强制停止: %s", strat.ID, reason)
		if err := s.engine.StopStrategy(strat.ID, false); err != nil {
			return err
		}
		return nil
	}

	filled, err := s.engine.ProcessFills(strat.ID, price)
	if err != nil {
		return err
	}
	if filled > 0 {
		logger.S().Infof("策略 %d 本轮成交 %d 张订单, 当前价 %.2f", strat.ID, filled, price)
	}
	return nil
}
