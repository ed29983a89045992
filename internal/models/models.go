package models

import "time"

// GridType 定义了网格间距的类型
type GridType string

const (
	GridArithmetic GridType = "ARITHMETIC" // 等差网格：每格价差相等
	GridGeometric  GridType = "GEOMETRIC"  // 等比网格：每格涨跌幅相等
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderStatus 定义了订单的状态
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// StrategyStatus 定义了策略的状态
type StrategyStatus string

const (
	StrategyStopped StrategyStatus = "STOPPED"
	StrategyRunning StrategyStatus = "RUNNING"
	StrategyPaused  StrategyStatus = "PAUSED"
)

// OrderSizeType 定义了单格下单量的计算方式
type OrderSizeType string

const (
	OrderSizeFixed OrderSizeType = "FIXED" // 固定数量
)

// FeeRate 是模拟成交的固定手续费率 (0.03%，按成交名义价值计)
const FeeRate = 0.0003

// Strategy 定义了一个网格策略的完整配置和运行状态
type Strategy struct {
	ID            int64          `json:"id"`
	Symbol        string         `json:"symbol"` // 交易标的, e.g., "BTCUSDT"
	Name          string         `json:"name,omitempty"`
	GridType      GridType       `json:"grid_type"`
	LowerPrice    float64        `json:"lower_price"` // 网格下边界
	UpperPrice    float64        `json:"upper_price"` // 网格上边界
	GridCount     int            `json:"grid_count"`  // 网格数量（格数，网格线为 grid_count+1 条）
	Capital       float64        `json:"capital"`     // 策略分配的总资金
	OrderSizeType OrderSizeType  `json:"order_size_type"`
	OrderSize     float64        `json:"order_size"`            // 每格下单数量（基础资产）
	TakeProfit    *float64       `json:"take_profit,omitempty"` // 止盈价（可选）
	StopLoss      *float64       `json:"stop_loss,omitempty"`   // 止损价（可选）
	PaperTrading  bool           `json:"paper_trading"`
	Status        StrategyStatus `json:"status"`
	CurrentPrice  float64        `json:"current_price"` // 最近一次观测到的市场价
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	StoppedAt     *time.Time     `json:"stopped_at,omitempty"`
}

// GridLevel 代表网格中的一条价格线。
// 它是 (lower, upper, count, type) 的纯函数，按需重新计算，从不落库。
type GridLevel struct {
	Level int     `json:"level"` // 网格线序号, 0..grid_count
	Price float64 `json:"price"`
}

// Order 定义了一张模拟挂单
type Order struct {
	ID            int64       `json:"id"`
	StrategyID    int64       `json:"strategy_id"`
	ClientOrderID string      `json:"client_order_id"`
	GridLevel     int         `json:"grid_level"` // 挂单所在的网格线序号
	Price         float64     `json:"price"`      // 挂单价（网格线价格）
	Side          Side        `json:"side"`
	Quantity      float64     `json:"quantity"`
	Status        OrderStatus `json:"status"`
	FilledPrice   float64     `json:"filled_price,omitempty"` // 实际成交价（以观测到的市场价成交）
	FilledAt      *time.Time  `json:"filled_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Position 定义了策略在某个标的上的持仓。
// Quantity 带符号（正为多头），数量归零时持仓行被删除。
type Position struct {
	ID            int64     `json:"id"`
	StrategyID    int64     `json:"strategy_id"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"` // 加权平均持仓成本
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"` // (current_price - avg_price) * quantity
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Trade 是每次成交的只追加记录
type Trade struct {
	ID          int64     `json:"id"`
	StrategyID  int64     `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnl float64   `json:"realized_pnl"` // 平仓部分的已实现盈亏，开仓成交为 0
	Fee         float64   `json:"fee"`
	TradedAt    time.Time `json:"traded_at"`
}

// StrategyStats 是从成交记录和持仓聚合出来的统计视图
type StrategyStats struct {
	TotalTrades     int     `json:"total_trades"`
	RealizedPnl     float64 `json:"realized_pnl"`
	TotalFees       float64 `json:"total_fees"`
	WinRate         float64 `json:"win_rate"` // 盈利成交占比, 0..1, 无成交时为 0
	CurrentPosition float64 `json:"current_position"`
}

// StrategyState 是策略的完整读视图：
// 策略本身 + 全部订单 + 统计 + 最新价格 + 重新计算出的网格线
type StrategyState struct {
	Strategy     *Strategy     `json:"strategy"`
	Orders       []Order       `json:"orders"`
	Stats        StrategyStats `json:"stats"`
	CurrentPrice float64       `json:"current_price"`
	GridLevels   []GridLevel   `json:"grid_levels"`
}
