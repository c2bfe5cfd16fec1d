package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradedesk/internal/instrument"
	"tradedesk/internal/metrics"
)

const defaultLookback = 5 * 24 * time.Hour

// Quote 是一次 LTP 查询的显式结果：成功时 Err 为 nil。
type Quote struct {
	SecurityID instrument.SecurityID
	Price      float64
	At         time.Time
	Err        error
}

// OK 报告查询是否成功。
func (q Quote) OK() bool {
	return q.Err == nil
}

// Fetcher 基于分钟线获取最新成交价。
type Fetcher struct {
	resolver *instrument.Resolver
	source   IntradaySource
	lookback time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewFetcher 创建 Fetcher，lookback 为请求分钟线的回看窗口。
func NewFetcher(resolver *instrument.Resolver, source IntradaySource, lookback time.Duration, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Fetcher{
		resolver: resolver,
		source:   source,
		lookback: lookback,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Lookup 解析合约并取最近一根分钟线的收盘价。
func (f *Fetcher) Lookup(ctx context.Context, id instrument.SecurityID) Quote {
	quote := Quote{SecurityID: id}

	inst, err := f.resolver.Resolve(ctx, id)
	if err != nil {
		quote.Err = err
		return quote
	}

	to := f.now().In(Exchange)
	bars, err := f.source.IntradaySeries(ctx, IntradayRequest{
		SecurityID: id,
		Segment:    inst.Segment,
		Kind:       inst.Kind,
		Interval:   IntervalMinute,
		From:       to.Add(-f.lookback),
		To:         to,
	})
	if err != nil {
		quote.Err = fmt.Errorf("marketdata: 获取 %s 分钟线失败: %w", id, err)
		return quote
	}

	latest, ok := LatestBar(bars)
	if !ok {
		quote.Err = fmt.Errorf("marketdata: %s: %w", id, ErrEmptySeries)
		return quote
	}

	quote.Price = latest.Close
	quote.At = latest.Timestamp
	return quote
}

// GetLTP 尽力获取最新成交价：任何失败都记录日志并返回 0，不向上传播。
// 单个合约失败不能阻塞整个持仓表的展示。
func (f *Fetcher) GetLTP(ctx context.Context, id instrument.SecurityID) float64 {
	quote := f.Lookup(ctx, id)
	f.metrics.ObserveLTP(failureReason(quote.Err))
	if quote.OK() {
		return quote.Price
	}

	f.logger.Warn("获取最新成交价失败，按 0 处理",
		zap.Stringer("security_id", id),
		zap.Error(quote.Err),
	)
	return 0
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, instrument.ErrNotFound):
		return "resolve"
	case errors.Is(err, ErrEmptySeries):
		return "empty"
	default:
		return "source"
	}
}
