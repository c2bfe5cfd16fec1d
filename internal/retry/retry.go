package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradedesk/internal/config"
)

const (
	defaultMinDelay = 500 * time.Millisecond
	defaultMaxDelay = 5 * time.Second
)

// Classifier 归一化错误并判断是否可重试。
type Classifier func(err error) (normalized error, retryable bool)

// Caller 以指数退避重试外部调用。
type Caller struct {
	cfg      config.RetryConfig
	logger   *zap.Logger
	classify Classifier
	onRetry  func()
}

// New 创建 Caller；onRetry 在每次等待重试前调用，可为 nil。
func New(cfg config.RetryConfig, classify Classifier, onRetry func(), logger *zap.Logger) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &Caller{cfg: cfg, logger: logger, classify: classify, onRetry: onRetry}
}

// Do 执行 fn，按 Classifier 判定重试，直到成功、不可重试或次数耗尽。
func (c *Caller) Do(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.MinDelay

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("外部调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retryable := err, false
		if c.classify != nil {
			normalizedErr, retryable = c.classify(err)
		}

		if !retryable || attempt >= c.cfg.MaxAttempts {
			c.logger.Error("外部调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := min(delay, c.cfg.MaxDelay)

		c.logger.Warn("外部调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)
		if c.onRetry != nil {
			c.onRetry()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = min(delay*2, c.cfg.MaxDelay)
	}
}
