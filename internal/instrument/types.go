package instrument

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound 表示合约主表中没有匹配记录，调用方应视为可恢复错误。
var ErrNotFound = errors.New("instrument not found")

const (
	// KindEquity 是现货股票在合约主表中的类型名，必须完全一致。
	KindEquity = "EQUITY"
	// ExchangeNSE 为默认交易所。
	ExchangeNSE = "NSE"
)

// Segment 表示拉取行情所需的市场分段。
type Segment string

const (
	SegmentCashEquity  Segment = "NSE_EQ"
	SegmentDerivatives Segment = "NSE_FNO"
)

// SegmentFor 根据合约类型推导市场分段，非 EQUITY 一律归入衍生品分段。
func SegmentFor(kind string) Segment {
	if kind == KindEquity {
		return SegmentCashEquity
	}
	return SegmentDerivatives
}

// SecurityID 是合约主表内唯一的整数标识。
type SecurityID int64

// ParseSecurityID 解析字符串形式的标识。
func ParseSecurityID(raw string) (SecurityID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("instrument: 非法 security_id %q: %w", raw, err)
	}
	return SecurityID(v), nil
}

func (id SecurityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Instrument 为合约主表中的一行。
type Instrument struct {
	SecurityID    SecurityID `json:"security_id"`
	Exchange      string     `json:"exchange"`
	TradingSymbol string     `json:"trading_symbol"`
	Kind          string     `json:"instrument_kind"`
	Segment       Segment    `json:"exchange_segment"`
}

// Master 抽象合约主表查询。
type Master interface {
	Lookup(ctx context.Context, id SecurityID) (Instrument, error)
	LookupEquity(ctx context.Context, exchange, symbol string) (Instrument, error)
}

func symbolKey(exchange, symbol string) string {
	return strings.ToUpper(strings.TrimSpace(exchange)) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}
