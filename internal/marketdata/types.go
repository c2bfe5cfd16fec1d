package marketdata

import (
	"context"
	"errors"
	"slices"
	"time"

	"tradedesk/internal/instrument"
)

// ErrSourceUnavailable 表示行情或持仓源调用失败（网络、接口错误、响应格式异常）。
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrEmptySeries 表示行情源返回了空序列。
var ErrEmptySeries = errors.New("empty price series")

// Exchange 为交易所本地时间（IST，固定 +05:30，无夏令时）。
var Exchange = time.FixedZone("IST", 5*3600+30*60)

// Interval 表示K线周期。
type Interval string

const (
	IntervalMinute Interval = "1"
	IntervalDaily  Interval = "D"
)

// PriceBar 代表单根K线，时间戳为交易所本地时间。
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// IntradayRequest 描述一次分钟线请求。
type IntradayRequest struct {
	SecurityID instrument.SecurityID
	Segment    instrument.Segment
	Kind       string
	Interval   Interval
	From       time.Time
	To         time.Time
}

// HistoryRequest 描述一次历史K线请求。
type HistoryRequest struct {
	Ticker   string
	Segment  instrument.Segment
	Kind     string
	Interval Interval
	From     time.Time
	To       time.Time
}

// IntradaySource 提供日内分钟线，返回顺序不作要求。
type IntradaySource interface {
	IntradaySeries(ctx context.Context, req IntradayRequest) ([]PriceBar, error)
}

// HistoricalSource 提供历史K线。
type HistoricalSource interface {
	HistoricalSeries(ctx context.Context, req HistoryRequest) ([]PriceBar, error)
}

// LatestBar 返回时间戳最大的一根K线，序列为空时 ok=false。
func LatestBar(bars []PriceBar) (PriceBar, bool) {
	if len(bars) == 0 {
		return PriceBar{}, false
	}
	latest := bars[0]
	for _, bar := range bars[1:] {
		if bar.Timestamp.After(latest.Timestamp) {
			latest = bar
		}
	}
	return latest, true
}

// SortChronological 按时间升序稳定排序，原地修改。
func SortChronological(bars []PriceBar) {
	slices.SortStableFunc(bars, func(a, b PriceBar) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}
