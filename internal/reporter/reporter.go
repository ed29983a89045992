// Package reporter 周期性地汇总并打印所有策略的运行状态
package reporter

import (
	"context"
	"fmt"
	"time"

	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Reporter 定期输出策略状态报表
type Reporter struct {
	store    *storage.Store
	interval time.Duration
}

// New 创建报表实例
func New(store *storage.Store, interval time.Duration) *Reporter {
	return &Reporter{store: store, interval: interval}
}

// Run 阻塞运行，按固定间隔打印报表，直到context被取消
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PrintSummary()
		}
	}
}

// PrintSummary 打印一次所有策略的汇总表格
func (r *Reporter) PrintSummary() {
	strategies, err := r.store.ListStrategies("")
	if err != nil {
		logger.S().Errorf("读取策略列表失败: %v", err)
		return
	}
	if len(strategies) == 0 {
		logger.S().Info("当前没有任何策略")
		return
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{
		"ID", "标的", "状态", "区间", "格数", "当前价", "持仓", "已实现盈亏", "手续费", "胜率", "成交数",
	})

	for i := range strategies {
		strat := &strategies[i]
		stats, err := r.store.GetStrategyStats(strat.ID)
		if err != nil {
			logger.S().Errorf("读取策略 %d 统计失败: %v", strat.ID, err)
			continue
		}
		t.AppendRow(table.Row{
			strat.ID,
			strat.Symbol,
			string(strat.Status),
			fmt.Sprintf("[%.2f, %.2f]", strat.LowerPrice, strat.UpperPrice),
			strat.GridCount,
			fmt.Sprintf("%.2f", strat.CurrentPrice),
			fmt.Sprintf("%.4f", stats.CurrentPosition),
			fmt.Sprintf("%.2f", stats.RealizedPnl),
			fmt.Sprintf("%.2f", stats.TotalFees),
			fmt.Sprintf("%.1f%%", stats.WinRate*100),
			stats.TotalTrades,
		})
	}

	logger.S().Infof("策略状态报表:\n%s", t.Render())
}
