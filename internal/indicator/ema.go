package indicator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	talib "github.com/markcheno/go-talib"
)

// ErrInsufficientData 表示输入序列为空，属于调用方可见的前置条件错误。
var ErrInsufficientData = errors.New("insufficient data")

// Convention 指定 EMA 预热段的种子方式。
type Convention string

const (
	// ConventionRecursive: ema[0]=close[0]，此后 ema[i]=close[i]*k+ema[i-1]*(1-k)。
	// 预热段即递推本身，单点输入的 EMA 等于其收盘价。
	ConventionRecursive Convention = "recursive"
	// ConventionTALib: 与 TA-Lib 一致，以前 period 个值的简单均值作种子，
	// 前 period-1 个输出为 NaN，不足 period 个点时全部为 NaN。
	ConventionTALib Convention = "talib"
)

// ParseConvention 解析配置中的 EMA 方式，空串视为递推。
func ParseConvention(raw string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ConventionRecursive:
		return ConventionRecursive, nil
	case ConventionTALib:
		return ConventionTALib, nil
	default:
		return "", fmt.Errorf("indicator: 不支持的 EMA 方式 %q", raw)
	}
}

// EMA 计算平滑系数 k=2/(period+1) 的指数移动平均，输出与输入等长。
func EMA(values []float64, period int, conv Convention) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("indicator: EMA 周期必须大于0, 实际 %d", period)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("indicator: EMA 输入为空: %w", ErrInsufficientData)
	}

	switch conv {
	case "", ConventionRecursive:
		return recursiveEMA(values, period), nil
	case ConventionTALib:
		return talibEMA(values, period), nil
	default:
		return nil, fmt.Errorf("indicator: 不支持的 EMA 方式 %q", conv)
	}
}

func recursiveEMA(values []float64, period int) []float64 {
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func talibEMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	// talib.Ema 在样本不足时会越界。
	if len(values) < period {
		return out
	}
	raw := talib.Ema(values, period)
	copy(out[period-1:], raw[period-1:])
	return out
}
