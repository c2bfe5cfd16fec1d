package indicator

import (
	"fmt"
	"time"

	"tradedesk/internal/marketdata"
)

// WeeklyBar 是同一 ISO 周内全部K线的汇总。
type WeeklyBar struct {
	Year        int       `json:"year"`
	Week        int       `json:"week"`
	PeriodStart time.Time `json:"period_start"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      int64     `json:"volume"`
	// EMA 为 NaN 表示当前方式下尚未产出数值。
	EMA float64 `json:"-"`

	closeAt time.Time
}

// ToWeekly 将K线按 (ISO 年, ISO 周) 分桶并叠加收盘价 EMA。
//
// 前置条件：bars 已按时间升序排列，乱序输入的结果未定义，可先调用
// marketdata.SortChronological。ISO 周按时间戳自身所在时区计算。
func ToWeekly(bars []marketdata.PriceBar, period int, conv Convention) ([]WeeklyBar, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("indicator: 周线聚合输入为空: %w", ErrInsufficientData)
	}
	if period < 1 {
		return nil, fmt.Errorf("indicator: EMA 周期必须大于0, 实际 %d", period)
	}

	weeks := make([]WeeklyBar, 0, len(bars)/5+1)
	for _, b := range bars {
		year, week := b.Timestamp.ISOWeek()

		n := len(weeks)
		if n == 0 || weeks[n-1].Year != year || weeks[n-1].Week != week {
			weeks = append(weeks, WeeklyBar{
				Year:        year,
				Week:        week,
				PeriodStart: b.Timestamp,
				Open:        b.Open,
				High:        b.High,
				Low:         b.Low,
				Close:       b.Close,
				Volume:      b.Volume,
				closeAt:     b.Timestamp,
			})
			continue
		}

		w := &weeks[n-1]
		if b.Timestamp.Before(w.PeriodStart) {
			w.PeriodStart = b.Timestamp
			w.Open = b.Open
		}
		if !b.Timestamp.Before(w.closeAt) {
			w.closeAt = b.Timestamp
			w.Close = b.Close
		}
		if b.High > w.High {
			w.High = b.High
		}
		if b.Low < w.Low {
			w.Low = b.Low
		}
		w.Volume += b.Volume
	}

	closes := make([]float64, len(weeks))
	for i := range weeks {
		closes[i] = weeks[i].Close
	}
	ema, err := EMA(closes, period, conv)
	if err != nil {
		return nil, err
	}
	for i := range weeks {
		weeks[i].EMA = ema[i]
	}

	return weeks, nil
}
