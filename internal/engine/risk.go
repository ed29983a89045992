package engine

import (
	"fmt"

	"grid-trader-go/internal/models"
)

// CheckRiskControls 评估一个运行中策略的风控状态，返回 (是否安全, 原因)。
// 按优先级依次检查：止损线、价格越出网格区间、挂单数量失控。
// 该检查只读不写；命中后强制停止策略是调度循环的职责。
func (e *Engine) CheckRiskControls(strat *models.Strategy) (bool, string, error) {
	price := strat.CurrentPrice

	if strat.StopLoss != nil && price <= *strat.StopLoss {
		return false, fmt.Sprintf("价格 %.2f 触发止损线 %.2f", price, *strat.StopLoss), nil
	}

	if price < strat.LowerPrice || price > strat.UpperPrice {
		return false, fmt.Sprintf("价格 %.2f 越出网格区间 [%.2f, %.2f]",
			price, strat.LowerPrice, strat.UpperPrice), nil
	}

	// 挂单数量上限为 2 倍网格数，防止订单失控
	pending, err := e.store.CountPendingOrders(strat.ID)
	if err != nil {
		return false, "", err
	}
	if pending > 2*strat.GridCount {
		return false, fmt.Sprintf("挂单数量 %d 超过上限 %d", pending, 2*strat.GridCount), nil
	}

	return true, "", nil
}
