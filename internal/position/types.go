package position

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tradedesk/internal/instrument"
)

// ErrDataIntegrity 表示持仓数据无法归入已知生命周期状态。
var ErrDataIntegrity = errors.New("position data integrity")

// Type 是持仓生命周期状态，只允许 LONG、SHORT、CLOSED 三种取值。
type Type string

const (
	Long   Type = "LONG"
	Short  Type = "SHORT"
	Closed Type = "CLOSED"
)

// ParseType 规整原始字符串；无法识别时原样保留，由 Classify 报告。
func ParseType(raw string) Type {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if t.Valid() {
		return t
	}
	return Type(raw)
}

// Valid 报告是否为已知状态。
func (t Type) Valid() bool {
	switch t {
	case Long, Short, Closed:
		return true
	default:
		return false
	}
}

// Position 为当日一条持仓或平仓记录，LTP 与 PnL 由 Classify 填充。
// PnL 为 nil 表示该行状态未知，盈亏无定义。
type Position struct {
	SecurityID    instrument.SecurityID `json:"security_id"`
	TradingSymbol string                `json:"trading_symbol"`
	Type          Type                  `json:"position_type"`
	BuyAvg        float64               `json:"buy_avg"`
	BuyQty        int64                 `json:"buy_qty"`
	SellAvg       float64               `json:"sell_avg"`
	SellQty       int64                 `json:"sell_qty"`
	DayBuyValue   float64               `json:"day_buy_value"`
	DaySellValue  float64               `json:"day_sell_value"`
	LTP           float64               `json:"ltp"`
	PnL           *float64              `json:"pnl"`
}

// Source 提供当前账户持仓快照。
type Source interface {
	Positions(ctx context.Context) ([]Position, error)
}

// IntegrityError 描述一条无法分类的持仓。
type IntegrityError struct {
	SecurityID    instrument.SecurityID
	TradingSymbol string
	RawType       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("position %s (%s): 未知持仓类型 %q", e.SecurityID, e.TradingSymbol, e.RawType)
}

// Unwrap 使 errors.Is(err, ErrDataIntegrity) 成立。
func (e *IntegrityError) Unwrap() error {
	return ErrDataIntegrity
}
