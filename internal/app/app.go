package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradedesk/internal/config"
	"tradedesk/internal/metrics"
	"tradedesk/internal/monitor"
	"tradedesk/internal/position"
	"tradedesk/internal/screener"
)

// PositionSnapshotter 提供持仓盈亏快照。
type PositionSnapshotter interface {
	Snapshot(ctx context.Context) (position.Snapshot, error)
}

// ScreenRunner 在股票池上执行一次筛选。
type ScreenRunner interface {
	Run(ctx context.Context, tickers []string, asOf time.Time) screener.Report
}

// Journal 持久化筛选与持仓事件，可为 nil。
type Journal interface {
	RecordScreenerRun(ctx context.Context, report screener.Report)
	RecordPositions(ctx context.Context, snap position.Snapshot)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
	ListEvents(ctx context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error)
}

// Deps 为 App 运行所需的已装配组件。
type Deps struct {
	Positions PositionSnapshotter
	Screener  ScreenRunner
	Universe  []string
	Metrics   *metrics.Metrics
	Journal   Journal
}

// App 聚合核心依赖并驱动 HTTP 接口与定时筛选的生命周期。
type App struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	lastMu     sync.RWMutex
	lastReport *screener.Report
}

// New 创建 App 实例。
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// Run 启动 HTTP 服务与定时任务，阻塞直到 ctx 取消或任一组件失败。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易台已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("screener_source", a.cfg.Screener.Source),
		zap.Int("universe", len(a.deps.Universe)),
	)

	srv := &http.Server{
		Addr:        a.cfg.HTTP.Addr,
		Handler:     a.Handler(),
		ReadTimeout: a.cfg.HTTP.ReadTimeout,
		// 筛选请求逐个标的限频，整体耗时可达数分钟。
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	sched, err := a.newScheduler(ctx)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.Info("HTTP 接口已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务异常: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
		return nil
	})

	if sched != nil {
		group.Go(func() error {
			sched.Start()
			a.logger.Info("定时筛选已启动", zap.String("cron", a.cfg.Scheduler.ScreenerCron))
			<-groupCtx.Done()
			<-sched.Stop().Done()
			a.logger.Info("定时筛选已停止")
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

// screen 执行一次筛选。只有完整跑完的报告才会替换 lastReport 并写入事件记录，
// 中途取消的报告仅返回给调用方。
func (a *App) screen(ctx context.Context, asOf time.Time) screener.Report {
	report := a.deps.Screener.Run(ctx, a.deps.Universe, asOf)

	if !report.Complete {
		a.logger.Warn("筛选未完成，不更新最近结果",
			zap.Int("evaluated", report.Evaluated),
			zap.Int("skipped", len(report.Skipped)),
			zap.Error(report.Err()),
		)
		if a.deps.Journal != nil {
			a.deps.Journal.RecordError(context.WithoutCancel(ctx), "筛选未完成", report.Err(), map[string]interface{}{
				"as_of":     asOf.Format(time.DateOnly),
				"evaluated": report.Evaluated,
			})
		}
		return report
	}

	a.lastMu.Lock()
	a.lastReport = &report
	a.lastMu.Unlock()

	if a.deps.Journal != nil {
		a.deps.Journal.RecordScreenerRun(context.WithoutCancel(ctx), report)
	}

	return report
}

func (a *App) lastScreen() (screener.Report, bool) {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	if a.lastReport == nil {
		return screener.Report{}, false
	}
	return *a.lastReport, true
}
