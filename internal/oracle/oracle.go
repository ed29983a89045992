// Package oracle 提供行情价格源。
// 价格缺失是常态而非错误：调用方拿到 ErrPriceUnavailable 时应跳过本轮处理。
package oracle

import "errors"

// ErrPriceUnavailable 表示当前拿不到该标的的可用价格
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Oracle 定义了核心引擎需要的行情接口
type Oracle interface {
	// GetPrice 返回标的的最新成交价。
	// 拿不到可用价格时返回 ErrPriceUnavailable。
	GetPrice(symbol string) (float64, error)
}
