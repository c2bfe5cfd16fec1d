package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	// SourceDhan 使用 Dhan 历史K线作为筛选数据源。
	SourceDhan = "dhan"
	// SourceCCXT 使用 ccxt 交易所K线作为筛选数据源。
	SourceCCXT = "ccxt"

	// EMARecursive 以首个收盘价为种子的递推 EMA。
	EMARecursive = "recursive"
	// EMATALib 使用 TA-Lib 的 SMA 种子 EMA。
	EMATALib = "talib"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Universe    UniverseConfig    `mapstructure:"universe"`
	Positions   PositionsConfig   `mapstructure:"positions"`
	Screener    ScreenerConfig    `mapstructure:"screener"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// HTTPConfig 控制对外 HTTP 接口。
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BrokerConfig 描述 Dhan 接口连接参数，凭证由环境变量单独加载。
type BrokerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// ExchangeConfig 描述 ccxt 备用行情源。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	PageLimit  int         `mapstructure:"page_limit"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// InstrumentsConfig 指定合约主表来源。
type InstrumentsConfig struct {
	MasterPath string `mapstructure:"master_path"`
}

// UniverseConfig 指定筛选股票池。
type UniverseConfig struct {
	Files   []string `mapstructure:"files"`
	Exclude []string `mapstructure:"exclude"`
}

// PositionsConfig 控制持仓盈亏计算。
type PositionsConfig struct {
	ExcludeSecurityIDs []int64       `mapstructure:"exclude_security_ids"`
	LTPLookback        time.Duration `mapstructure:"ltp_lookback"`
}

// ScreenerConfig 控制周线突破筛选。
type ScreenerConfig struct {
	Source       string        `mapstructure:"source"`
	HistoryStart string        `mapstructure:"history_start"`
	EMAPeriod    int           `mapstructure:"ema_period"`
	EMAMode      string        `mapstructure:"ema_mode"`
	Pause        time.Duration `mapstructure:"pause"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制定时筛选，ScreenerCron 为空时不启用。
type SchedulerConfig struct {
	ScreenerCron string `mapstructure:"screener_cron"`
}

// HistoryStartDate 解析筛选历史窗口起点。
func (c ScreenerConfig) HistoryStartDate() (time.Time, error) {
	t, err := time.Parse(time.DateOnly, c.HistoryStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("screener.history_start 格式错误: %w", err)
	}
	return t, nil
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.HTTP.Addr == "" {
		err = multierr.Append(err, errors.New("http.addr 不能为空"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("http.shutdown_timeout 必须大于0"))
	}
	if c.Broker.BaseURL == "" {
		err = multierr.Append(err, errors.New("broker.base_url 不能为空"))
	}
	if c.Broker.Timeout <= 0 {
		err = multierr.Append(err, errors.New("broker.timeout 必须大于0"))
	}
	err = multierr.Append(err, c.Broker.Retry.validate("broker.retry"))
	if c.Instruments.MasterPath == "" {
		err = multierr.Append(err, errors.New("instruments.master_path 不能为空"))
	}
	if len(c.Universe.Files) == 0 {
		err = multierr.Append(err, errors.New("universe.files 至少包含一个文件"))
	}
	if c.Positions.LTPLookback <= 0 {
		err = multierr.Append(err, errors.New("positions.ltp_lookback 必须大于0"))
	}
	switch strings.ToLower(c.Screener.Source) {
	case SourceDhan:
	case SourceCCXT:
		if c.Exchange.Name == "" {
			err = multierr.Append(err, errors.New("exchange.name 不能为空"))
		}
		if c.Exchange.PageLimit <= 0 {
			err = multierr.Append(err, errors.New("exchange.page_limit 必须大于0"))
		}
		err = multierr.Append(err, c.Exchange.Retry.validate("exchange.retry"))
	default:
		err = multierr.Append(err, fmt.Errorf("screener.source 不支持: %q", c.Screener.Source))
	}
	if _, parseErr := c.Screener.HistoryStartDate(); parseErr != nil {
		err = multierr.Append(err, parseErr)
	}
	if c.Screener.EMAPeriod <= 0 {
		err = multierr.Append(err, errors.New("screener.ema_period 必须大于0"))
	}
	switch strings.ToLower(c.Screener.EMAMode) {
	case EMARecursive, EMATALib:
	default:
		err = multierr.Append(err, fmt.Errorf("screener.ema_mode 不支持: %q", c.Screener.EMAMode))
	}
	if c.Screener.Pause < 0 {
		err = multierr.Append(err, errors.New("screener.pause 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (r RetryConfig) validate(prefix string) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", prefix))
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.delay 必须为正", prefix))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.min_delay 不能大于 max_delay", prefix))
	}
	return err
}
