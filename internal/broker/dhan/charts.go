package dhan

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"tradedesk/internal/marketdata"
)

const intradayLayout = "2006-01-02 15:04:05"

type intradayRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	Interval        string `json:"interval"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

type historicalRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	ExpiryCode      int    `json:"expiryCode"`
	OI              bool   `json:"oi"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

// chartResponse 为并列数组格式，timestamp 为 epoch 秒。
type chartResponse struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []float64 `json:"volume"`
	Timestamp []float64 `json:"timestamp"`
}

// IntradaySeries 拉取分钟线。
func (c *Client) IntradaySeries(ctx context.Context, req marketdata.IntradayRequest) ([]marketdata.PriceBar, error) {
	interval := req.Interval
	if interval == "" {
		interval = marketdata.IntervalMinute
	}
	body := intradayRequest{
		SecurityID:      req.SecurityID.String(),
		ExchangeSegment: string(req.Segment),
		Instrument:      req.Kind,
		Interval:        string(interval),
		FromDate:        req.From.In(marketdata.Exchange).Format(intradayLayout),
		ToDate:          req.To.In(marketdata.Exchange).Format(intradayLayout),
	}

	var resp chartResponse
	if err := c.call(ctx, "intraday", http.MethodPost, "/charts/intraday", body, &resp); err != nil {
		return nil, err
	}
	return resp.bars()
}

// HistoricalSeries 按代码拉取日线。接口的 toDate 不含当日，因此向后多取一天。
func (c *Client) HistoricalSeries(ctx context.Context, req marketdata.HistoryRequest) ([]marketdata.PriceBar, error) {
	inst, err := c.resolver.ResolveTicker(ctx, req.Ticker)
	if err != nil {
		return nil, err
	}

	segment := req.Segment
	if segment == "" {
		segment = inst.Segment
	}
	kind := req.Kind
	if kind == "" {
		kind = inst.Kind
	}

	body := historicalRequest{
		SecurityID:      inst.SecurityID.String(),
		ExchangeSegment: string(segment),
		Instrument:      kind,
		FromDate:        req.From.In(marketdata.Exchange).Format(time.DateOnly),
		ToDate:          req.To.In(marketdata.Exchange).AddDate(0, 0, 1).Format(time.DateOnly),
	}

	var resp chartResponse
	if err := c.call(ctx, "historical", http.MethodPost, "/charts/historical", body, &resp); err != nil {
		return nil, err
	}
	return resp.bars()
}

func (r chartResponse) bars() ([]marketdata.PriceBar, error) {
	n := len(r.Timestamp)
	if len(r.Open) != n || len(r.High) != n || len(r.Low) != n || len(r.Close) != n || len(r.Volume) != n {
		return nil, fmt.Errorf("dhan: K线数组长度不一致: %w", marketdata.ErrSourceUnavailable)
	}

	bars := make([]marketdata.PriceBar, n)
	for i := range n {
		sec, frac := math.Modf(r.Timestamp[i])
		bars[i] = marketdata.PriceBar{
			Timestamp: time.Unix(int64(sec), int64(frac*1e9)).In(marketdata.Exchange),
			Open:      r.Open[i],
			High:      r.High[i],
			Low:       r.Low[i],
			Close:     r.Close[i],
			Volume:    int64(r.Volume[i]),
		}
	}
	return bars, nil
}
