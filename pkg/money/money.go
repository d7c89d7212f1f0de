package money

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 金额精度处理
// ============================================================================
//
// 【为什么所有金额都要经过 Round？】
//
// 余额使用 float64 存储，二进制浮点无法精确表示 0.1 这类十进制小数。
// 如果不在边界处统一舍入，多次加减后会积累误差（比如 0.30000000000000004）。
//
// 约定：任何金额进入账本（设置余额、转账、税费计算）之前，
// 必须先经过 Round，保证落库和内存中的值始终是 D 位小数的精确形式。
//
// 舍入规则：四舍五入（HALF_UP），负数保留符号后同样处理。
//
// ============================================================================

const (
	// MinDecimals / MaxDecimals 小数位数的合法范围
	MinDecimals = 0
	MaxDecimals = 8

	// Epsilon 浮点比较容差，余额判断统一使用
	Epsilon = 1e-9
)

// ClampDecimals 将小数位数收敛到合法范围 [0, 8]
func ClampDecimals(d int) int {
	if d < MinDecimals {
		return MinDecimals
	}
	if d > MaxDecimals {
		return MaxDecimals
	}
	return d
}

// Round 将 v 四舍五入到 decimals 位小数
//
// decimal.Round 的语义是 half away from zero，
// 对正数等价于 HALF_UP，对负数保留符号（-0.005 -> -0.01）。
func Round(v float64, decimals int) float64 {
	d := ClampDecimals(decimals)
	out, _ := decimal.NewFromFloat(v).Round(int32(d)).Float64()
	return out
}

// Format 将金额格式化为定点小数字符串，如 Format(12.5, 2) => "12.50"
func Format(v float64, decimals int) string {
	d := ClampDecimals(decimals)
	return strconv.FormatFloat(Round(v, d), 'f', d, 64)
}
