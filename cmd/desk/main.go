package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tradedesk/internal/app"
	"tradedesk/internal/broker/dhan"
	"tradedesk/internal/config"
	"tradedesk/internal/exchange"
	"tradedesk/internal/indicator"
	"tradedesk/internal/instrument"
	"tradedesk/internal/log"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/metrics"
	"tradedesk/internal/monitor"
	"tradedesk/internal/position"
	"tradedesk/internal/screener"
	"tradedesk/internal/store"
	"tradedesk/internal/universe"
)

func main() {
	var (
		configPath string
		screenOnce bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&screenOnce, "screen", false, "执行一次筛选并输出 JSON 后退出")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, screenOnce); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, screenOnce bool) error {
	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	master, err := loadMaster(ctx, cfg.Instruments, sqliteStore, logger)
	if err != nil {
		return err
	}
	resolver := instrument.NewResolver(master)

	creds, err := dhan.LoadCredentials()
	if err != nil {
		return err
	}

	m := metrics.New()
	broker := dhan.NewClient(cfg.Broker, creds, resolver, m, logger)

	history, err := historicalSource(cfg, broker, m, logger)
	if err != nil {
		return err
	}

	tickers, err := universe.Load(cfg.Universe.Files...)
	if err != nil {
		return err
	}

	scr, err := newScreener(cfg, history, m, logger)
	if err != nil {
		return err
	}

	if screenOnce {
		report := scr.Run(ctx, tickers, time.Now().In(marketdata.Exchange))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fetcher := marketdata.NewFetcher(resolver, broker, cfg.Positions.LTPLookback, m, logger)
	classifier := position.NewClassifier(fetcher, m, logger)
	positions := position.NewService(broker, classifier, cfg.Positions.ExcludeSecurityIDs, logger)

	journal, err := monitor.NewService(sqliteStore, logger)
	if err != nil {
		return err
	}

	desk := app.New(cfg, app.Deps{
		Positions: positions,
		Screener:  scr,
		Universe:  tickers,
		Metrics:   m,
		Journal:   journal,
	}, logger)
	return desk.Run(ctx)
}

// loadMaster 将合约主表 CSV 导入 SQLite，供后续按 id 与代码查询。
func loadMaster(ctx context.Context, cfg config.InstrumentsConfig, s *store.Store, logger *zap.Logger) (*instrument.SQLiteMaster, error) {
	f, err := os.Open(cfg.MasterPath)
	if err != nil {
		return nil, fmt.Errorf("打开合约主表失败: %w", err)
	}
	defer f.Close()

	rows, stats, err := instrument.LoadScripMaster(f, instrument.ExchangeNSE)
	if err != nil {
		return nil, err
	}

	master, err := instrument.NewSQLiteMaster(s)
	if err != nil {
		return nil, err
	}
	imported, err := master.Import(ctx, rows)
	if err != nil {
		return nil, err
	}

	logger.Info("合约主表已加载",
		zap.String("path", cfg.MasterPath),
		zap.Int("rows", stats.Rows),
		zap.Int("imported", imported),
		zap.Int("filtered", stats.Filtered),
		zap.Int("invalid_ids", stats.InvalidIDs),
	)
	return master, nil
}

func historicalSource(cfg *config.Config, broker *dhan.Client, m *metrics.Metrics, logger *zap.Logger) (marketdata.HistoricalSource, error) {
	switch strings.ToLower(cfg.Screener.Source) {
	case config.SourceCCXT:
		client, err := exchange.NewClient(cfg.Exchange, m, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return broker, nil
	}
}

func newScreener(cfg *config.Config, source marketdata.HistoricalSource, m *metrics.Metrics, logger *zap.Logger) (*screener.Screener, error) {
	conv, err := indicator.ParseConvention(cfg.Screener.EMAMode)
	if err != nil {
		return nil, err
	}
	start, err := cfg.Screener.HistoryStartDate()
	if err != nil {
		return nil, err
	}

	return screener.New(source, screener.Options{
		HistoryStart: time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, marketdata.Exchange),
		EMAPeriod:    cfg.Screener.EMAPeriod,
		Convention:   conv,
		Pause:        cfg.Screener.Pause,
		Exclude:      cfg.Universe.Exclude,
	}, m, logger), nil
}
