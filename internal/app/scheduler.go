package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tradedesk/internal/marketdata"
)

// cronLogger 将 cron 内部日志转接到 zap。
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// newScheduler 未配置 cron 表达式时返回 nil。
// 表达式含秒字段，按交易所本地时间解析；上一轮未结束时跳过本轮。
func (a *App) newScheduler(ctx context.Context) (*cron.Cron, error) {
	spec := strings.TrimSpace(a.cfg.Scheduler.ScreenerCron)
	if spec == "" {
		return nil, nil
	}

	logger := cronLogger{sugar: a.logger.Sugar()}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(marketdata.Exchange),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(spec, func() { a.scheduledScreen(ctx) }); err != nil {
		return nil, fmt.Errorf("注册定时筛选失败: %w", err)
	}
	return c, nil
}

func (a *App) scheduledScreen(ctx context.Context) {
	asOf := a.now().In(marketdata.Exchange)
	a.logger.Info("定时筛选触发", zap.String("as_of", asOf.Format(time.DateOnly)))

	report := a.screen(ctx, asOf)
	tickers := make([]string, 0, len(report.Candidates))
	for _, c := range report.Candidates {
		tickers = append(tickers, c.Ticker)
	}
	a.logger.Info("定时筛选结果",
		zap.Strings("candidates", tickers),
		zap.Int("skipped", len(report.Skipped)),
	)
}
