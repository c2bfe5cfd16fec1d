package screener

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tradedesk/internal/indicator"
	"tradedesk/internal/instrument"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/metrics"
	"tradedesk/internal/universe"
)

// ErrMissingEMA 表示最后一根周线尚无 EMA 数值。
var ErrMissingEMA = errors.New("ema not available")

// Candidate 为通过突破条件的标的：入场价为最新周高点，止损为最新周低点。
type Candidate struct {
	Ticker   string  `json:"ticker"`
	Entry    float64 `json:"entry"`
	StopLoss float64 `json:"stop_loss"`
}

// Outcome 是单个标的的筛选结果；Err 非空表示该标的被跳过。
type Outcome struct {
	Ticker    string
	Candidate *Candidate
	Err       error
}

// Skip 记录被跳过的标的及原因。
type Skip struct {
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

// Report 汇总一次筛选。
type Report struct {
	AsOf       time.Time     `json:"as_of"`
	Candidates []Candidate   `json:"candidates"`
	Skipped    []Skip        `json:"skipped"`
	Evaluated  int           `json:"evaluated"`
	Duration   time.Duration `json:"duration"`
	// Complete 为 false 表示 ctx 在中途取消，未评估的标的记在 Skipped 中。
	Complete bool `json:"complete"`

	errs error
}

// Err 合并全部被跳过标的的错误以及取消原因，无跳过时为 nil。
func (r Report) Err() error {
	return r.errs
}

// Options 控制筛选参数。
type Options struct {
	HistoryStart time.Time
	EMAPeriod    int
	Convention   indicator.Convention
	Pause        time.Duration
	Exclude      []string
}

// DefaultOptions 返回参考筛选器使用的参数。
func DefaultOptions() Options {
	return Options{
		HistoryStart: time.Date(2022, time.January, 1, 0, 0, 0, 0, marketdata.Exchange),
		EMAPeriod:    5,
		Convention:   indicator.ConventionRecursive,
		Pause:        time.Second,
		Exclude:      []string{"NIFTY 50", "NIFTY NEXT 50"},
	}
}

// Screener 在股票池上逐个检查周线 EMA 突破前置条件。
type Screener struct {
	source  marketdata.HistoricalSource
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New 创建 Screener。
func New(source marketdata.HistoricalSource, opts Options, m *metrics.Metrics, logger *zap.Logger) *Screener {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.HistoryStart.IsZero() {
		opts.HistoryStart = defaults.HistoryStart
	}
	if opts.EMAPeriod <= 0 {
		opts.EMAPeriod = defaults.EMAPeriod
	}
	if opts.Convention == "" {
		opts.Convention = defaults.Convention
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if opts.Exclude == nil {
		opts.Exclude = defaults.Exclude
	}
	return &Screener{
		source:  source,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Screen 返回按股票池顺序排列的候选标的。
func (s *Screener) Screen(ctx context.Context, tickers []string, asOf time.Time) []Candidate {
	return s.Run(ctx, tickers, asOf).Candidates
}

// Run 顺序处理每个标的；单个标的失败只记录并跳过，不影响后续标的。
// 相邻请求之间暂停 Options.Pause 以遵守数据源限频。
func (s *Screener) Run(ctx context.Context, tickers []string, asOf time.Time) Report {
	start := time.Now()
	list := universe.Exclude(tickers, s.opts.Exclude)

	report := Report{
		AsOf:       asOf,
		Candidates: []Candidate{},
		Skipped:    []Skip{},
	}

	s.logger.Info("开始周线突破筛选",
		zap.Int("universe", len(tickers)),
		zap.Int("tickers", len(list)),
		zap.String("as_of", asOf.Format(time.DateOnly)),
	)

	for i, ticker := range list {
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				s.abandon(&report, list[i:], err)
				break
			}
		}

		outcome := s.Evaluate(ctx, ticker, asOf)
		report.Evaluated++

		switch {
		case outcome.Err != nil:
			s.metrics.ObserveTicker("skipped")
			s.logger.Warn("标的筛选失败，已跳过", zap.String("ticker", ticker), zap.Error(outcome.Err))
			report.Skipped = append(report.Skipped, Skip{Ticker: ticker, Reason: outcome.Err.Error()})
			report.errs = multierr.Append(report.errs, outcome.Err)
		case outcome.Candidate != nil:
			s.metrics.ObserveTicker("candidate")
			s.logger.Info("发现突破候选",
				zap.String("ticker", ticker),
				zap.Float64("entry", outcome.Candidate.Entry),
				zap.Float64("stop_loss", outcome.Candidate.StopLoss),
			)
			report.Candidates = append(report.Candidates, *outcome.Candidate)
		default:
			s.metrics.ObserveTicker("rejected")
		}
	}

	report.Complete = report.Evaluated == len(list) && ctx.Err() == nil
	if report.Evaluated == len(list) && ctx.Err() != nil {
		// 最后一个标的评估期间被取消。
		report.errs = multierr.Append(report.errs, ctx.Err())
	}
	report.Duration = time.Since(start)
	s.metrics.ObserveScreenerRun(report.Duration)
	s.logger.Info("周线突破筛选完成",
		zap.Bool("complete", report.Complete),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("candidates", len(report.Candidates)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Duration("duration", report.Duration),
	)

	return report
}

// abandon 把取消后未评估的标的逐个记为跳过。
func (s *Screener) abandon(report *Report, rest []string, cause error) {
	s.logger.Warn("筛选被取消",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("remaining", len(rest)),
		zap.Error(cause),
	)
	reason := "未评估: " + cause.Error()
	for _, ticker := range rest {
		s.metrics.ObserveTicker("cancelled")
		report.Skipped = append(report.Skipped, Skip{Ticker: ticker, Reason: reason})
	}
	report.errs = multierr.Append(report.errs, fmt.Errorf("screener: %d 个标的未评估: %w", len(rest), cause))
}

// Evaluate 拉取单个标的日线，聚合为周线，只检查最后一根。
func (s *Screener) Evaluate(ctx context.Context, ticker string, asOf time.Time) Outcome {
	out := Outcome{Ticker: ticker}

	bars, err := s.source.HistoricalSeries(ctx, marketdata.HistoryRequest{
		Ticker:   ticker,
		Segment:  instrument.SegmentCashEquity,
		Kind:     instrument.KindEquity,
		Interval: marketdata.IntervalDaily,
		From:     s.opts.HistoryStart,
		To:       asOf,
	})
	if err != nil {
		out.Err = fmt.Errorf("screener: 获取 %s 历史K线失败: %w", ticker, err)
		return out
	}

	marketdata.SortChronological(bars)
	weeks, err := indicator.ToWeekly(bars, s.opts.EMAPeriod, s.opts.Convention)
	if err != nil {
		out.Err = fmt.Errorf("screener: %s 周线聚合失败: %w", ticker, err)
		return out
	}

	last := weeks[len(weeks)-1]
	if math.IsNaN(last.EMA) {
		out.Err = fmt.Errorf("screener: %s 仅有 %d 根周线: %w", ticker, len(weeks), ErrMissingEMA)
		return out
	}

	if c, ok := Breakout(ticker, last); ok {
		out.Candidate = &c
	}
	return out
}

// Breakout 判断 EMA 是否高于周线高点。
func Breakout(ticker string, last indicator.WeeklyBar) (Candidate, bool) {
	if !(last.EMA > last.High) {
		return Candidate{}, false
	}
	return Candidate{Ticker: ticker, Entry: last.High, StopLoss: last.Low}, true
}

func (s *Screener) pause(ctx context.Context) error {
	if s.opts.Pause <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.opts.Pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
