// Package grid 提供网格价格线的纯函数计算。
// 网格线是策略静态配置的纯函数，按需重算，从不持久化。
package grid

import (
	"fmt"
	"math"

	"grid-trader-go/internal/models"
)

// GenerateLevels 根据上下边界和格数生成有序的网格线序列。
// 返回 count+1 条网格线，序号0为下边界，序号count为上边界，价格保留2位小数。
func GenerateLevels(lower, upper float64, count int, gridType models.GridType) ([]models.GridLevel, error) {
	if count < 1 {
		return nil, fmt.Errorf("无效的网格数量: %d", count)
	}
	if lower <= 0 || lower >= upper {
		return nil, fmt.Errorf("无效的价格区间: [%.2f, %.2f]", lower, upper)
	}

	levels := make([]models.GridLevel, 0, count+1)

	switch gridType {
	case models.GridGeometric:
		// 等比网格：相邻网格线价格比例相等
		ratio := upper / lower
		for i := 0; i <= count; i++ {
			price := lower * math.Pow(ratio, float64(i)/float64(count))
			levels = append(levels, models.GridLevel{Level: i, Price: round2(price)})
		}
	default:
		// 等差网格：相邻网格线价差相等
		step := (upper - lower) / float64(count)
		for i := 0; i <= count; i++ {
			price := lower + float64(i)*step
			levels = append(levels, models.GridLevel{Level: i, Price: round2(price)})
		}
	}

	return levels, nil
}

// FindBracket 线性扫描定位当前价格所在的网格区间，
// 返回满足 levels[k].Price <= price <= levels[k+1].Price 的 k。
// 价格高于最上边一格时返回最后一条网格线的序号。
func FindBracket(levels []models.GridLevel, price float64) int {
	for i := 0; i < len(levels)-1; i++ {
		if levels[i].Price <= price && price <= levels[i+1].Price {
			return i
		}
	}
	return len(levels) - 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
