package position

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tradedesk/internal/instrument"
	"tradedesk/internal/metrics"
)

// LTPGetter 提供尽力而为的最新成交价，失败时返回 0。
type LTPGetter interface {
	GetLTP(ctx context.Context, id instrument.SecurityID) float64
}

// Classifier 按持仓状态计算盈亏。
type Classifier struct {
	ltp     LTPGetter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewClassifier 创建 Classifier。
func NewClassifier(ltp LTPGetter, m *metrics.Metrics, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{ltp: ltp, metrics: m, logger: logger}
}

// Classify 为每条持仓填充 LTP 与 PnL，返回新切片，顺序与输入一致。
// 状态未知的行 PnL 保持 nil，并以 *IntegrityError 聚合在返回的错误中。
func (c *Classifier) Classify(ctx context.Context, positions []Position) ([]Position, error) {
	out := make([]Position, len(positions))
	var errs error

	for i, p := range positions {
		p.LTP = c.ltp.GetLTP(ctx, p.SecurityID)
		p.PnL = nil

		pnl, err := PnL(p)
		if err != nil {
			c.metrics.ObserveIntegrityFailure()
			c.logger.Error("持仓类型无法识别",
				zap.Stringer("security_id", p.SecurityID),
				zap.String("symbol", p.TradingSymbol),
				zap.String("position_type", string(p.Type)),
			)
			errs = multierr.Append(errs, err)
		} else {
			p.PnL = &pnl
			c.metrics.ObservePosition(string(p.Type))
		}

		out[i] = p
	}

	return out, errs
}

// PnL 按状态选择唯一公式：
//
//	LONG:   ltp*buy_qty - day_buy_value
//	SHORT:  -ltp*sell_qty + sell_avg
//	CLOSED: day_sell_value - day_buy_value（与 ltp 无关）
//
// SHORT 使用 sell_avg 而不是当日卖出金额，与 LONG 不对称，此处保持原样。
func PnL(p Position) (float64, error) {
	switch p.Type {
	case Long:
		return p.LTP*float64(p.BuyQty) - p.DayBuyValue, nil
	case Short:
		return -p.LTP*float64(p.SellQty) + p.SellAvg, nil
	case Closed:
		return -p.DayBuyValue + p.DaySellValue, nil
	default:
		return 0, &IntegrityError{
			SecurityID:    p.SecurityID,
			TradingSymbol: p.TradingSymbol,
			RawType:       string(p.Type),
		}
	}
}
