package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"tradedesk/internal/config"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/metrics"
	"tradedesk/internal/retry"
)

const (
	// TimeframeDaily 为筛选使用的日线周期。
	TimeframeDaily = "1d"

	defaultPageLimit = 1000
)

// ohlcvFetcher 隔离 ccxt 调用，便于替换。
type ohlcvFetcher interface {
	loadMarkets() error
	fetchDaily(symbol string, since, limit int64) ([]ccxt.OHLCV, error)
}

type binanceUSDM struct {
	ex *ccxt.Binanceusdm
}

func (b binanceUSDM) loadMarkets() error {
	_, err := b.ex.LoadMarkets()
	return err
}

func (b binanceUSDM) fetchDaily(symbol string, since, limit int64) ([]ccxt.OHLCV, error) {
	return b.ex.FetchOHLCV(
		symbol,
		ccxt.WithFetchOHLCVTimeframe(TimeframeDaily),
		ccxt.WithFetchOHLCVSince(since),
		ccxt.WithFetchOHLCVLimit(limit),
	)
}

// Client 通过 ccxt 拉取日线，作为筛选的备用历史K线源。
// 股票池中的代码按 ccxt 统一符号（如 BTC/USDT:USDT）原样使用，
// 请求中的 Segment 与 Kind 不参与查询，NSE 股票代码直接返回 ErrUnsupportedSymbol。
type Client struct {
	fetcher   ohlcvFetcher
	pageLimit int64
	caller    *retry.Caller
	logger    *zap.Logger

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 ccxt 客户端，目前只支持 binanceusdm。
func NewClient(cfg config.ExchangeConfig, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if !strings.EqualFold(cfg.Name, "binanceusdm") {
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return newClient(binanceUSDM{ex: ex}, cfg, m, logger), nil
}

func newClient(fetcher ohlcvFetcher, cfg config.ExchangeConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", "ccxt"))

	limit := int64(cfg.PageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}

	return &Client{
		fetcher:   fetcher,
		pageLimit: limit,
		caller:    retry.New(cfg.Retry, classifyError, func() { m.ObserveRetry("ccxt") }, logger),
		logger:    logger,
	}
}

// HistoricalSeries 自 From 起分页拉取日线，丢弃晚于 To 的K线。
func (c *Client) HistoricalSeries(ctx context.Context, req marketdata.HistoryRequest) ([]marketdata.PriceBar, error) {
	if err := checkSymbol(req.Ticker); err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return nil, c.wrap("load_markets", err)
	}

	since := req.From.UnixMilli()
	until := req.To.UnixMilli()
	var bars []marketdata.PriceBar

	for since <= until {
		var page []ccxt.OHLCV
		err := c.caller.Do(ctx, "fetch_ohlcv_1d", func() error {
			result, err := c.fetcher.fetchDaily(req.Ticker, since, c.pageLimit)
			if err != nil {
				return err
			}
			page = result
			return nil
		})
		if err != nil {
			return nil, c.wrap(req.Ticker, err)
		}

		last := since - 1
		for _, item := range page {
			last = max(last, item.Timestamp)
			if item.Timestamp < since || item.Timestamp > until {
				continue
			}
			bars = append(bars, marketdata.PriceBar{
				Timestamp: time.UnixMilli(item.Timestamp).In(marketdata.Exchange),
				Open:      item.Open,
				High:      item.High,
				Low:       item.Low,
				Close:     item.Close,
				Volume:    int64(item.Volume),
			})
		}

		if int64(len(page)) < c.pageLimit || last < since {
			break
		}
		since = last + 1
	}

	c.logger.Debug("已获取日线",
		zap.String("symbol", req.Ticker),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if err := c.caller.Do(ctx, "load_markets", c.fetcher.loadMarkets); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

func (c *Client) wrap(operation string, err error) error {
	return fmt.Errorf("exchange: %s: %w: %w", operation, marketdata.ErrSourceUnavailable, err)
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if maint := maintenanceError(ccxtErr); maint != nil {
			return maint, false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
