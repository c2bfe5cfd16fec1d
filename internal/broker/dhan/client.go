package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"tradedesk/internal/config"
	"tradedesk/internal/instrument"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/metrics"
	"tradedesk/internal/retry"
)

const maxErrorBody = 512

// Credentials 为 Dhan 接口凭证，只从环境变量读取。
type Credentials struct {
	ClientID    string `envconfig:"DHAN_CLIENT_ID" required:"true"`
	AccessToken string `envconfig:"DHAN_API_KEY" required:"true"`
}

// LoadCredentials 读取 DHAN_CLIENT_ID 与 DHAN_API_KEY。
func LoadCredentials() (Credentials, error) {
	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, fmt.Errorf("dhan: 读取凭证失败: %w", err)
	}
	if creds.ClientID == "" || creds.AccessToken == "" {
		return Credentials{}, errors.New("dhan: DHAN_CLIENT_ID 与 DHAN_API_KEY 不能为空")
	}
	return creds, nil
}

// StatusError 表示接口返回了非 2xx 状态码。
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Client 封装 Dhan v2 REST 接口，同时实现持仓源、分钟线源与历史K线源。
type Client struct {
	baseURL  string
	creds    Credentials
	http     *http.Client
	resolver *instrument.Resolver
	caller   *retry.Caller
	logger   *zap.Logger
}

// NewClient 创建 Client；resolver 用于历史K线按代码查找 security_id。
func NewClient(cfg config.BrokerConfig, creds Credentials, resolver *instrument.Resolver, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", "dhan"))

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		creds:    creds,
		http:     &http.Client{Timeout: cfg.Timeout},
		resolver: resolver,
		caller:   retry.New(cfg.Retry, classifyError, func() { m.ObserveRetry("dhan") }, logger),
		logger:   logger,
	}
}

// call 发送请求并把响应解码到 out，失败统一包装为 ErrSourceUnavailable。
func (c *Client) call(ctx context.Context, operation, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dhan: %s 请求编码失败: %w", operation, err)
		}
	}

	err := c.caller.Do(ctx, operation, func() error {
		return c.doRequest(ctx, method, path, payload, out)
	})
	if err != nil {
		return fmt.Errorf("dhan: %s: %w: %w", operation, marketdata.ErrSourceUnavailable, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", c.creds.AccessToken)
	req.Header.Set("client-id", c.creds.ClientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("响应解析失败: %w", err)
	}
	return nil
}

// classifyError 网络错误、429 与 5xx 可重试，其余直接失败。
func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return err, statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
