package exchange

import (
	"errors"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"tradedesk/internal/instrument"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，本次筛选应跳过该数据源。
	ErrMaintenance = errors.New("exchange on maintenance")

	// ErrUnsupportedSymbol 表示代码不是 ccxt 统一符号（如 NSE 股票代码），
	// 同时匹配 instrument.ErrNotFound。
	ErrUnsupportedSymbol = fmt.Errorf("not a ccxt unified symbol: %w", instrument.ErrNotFound)
)

// checkSymbol 拒绝 ccxt 无法提供的代码，避免带着重试打到交易所。
func checkSymbol(ticker string) error {
	base, quote, ok := strings.Cut(ticker, "/")
	if !ok || strings.TrimSpace(base) == "" || strings.TrimSpace(quote) == "" {
		return fmt.Errorf("%q: %w", ticker, ErrUnsupportedSymbol)
	}
	return nil
}

// maintenanceError 把 ccxt 维护错误归入 ErrMaintenance，其余返回 nil。
func maintenanceError(ccxtErr *ccxt.Error) error {
	if ccxtErr.Type != ccxt.OnMaintenanceErrType {
		return nil
	}
	message := strings.TrimSpace(ccxtErr.Message)
	if message == "" {
		message = "exchange under maintenance"
	}
	return fmt.Errorf("%w: %s", ErrMaintenance, message)
}

// IsRetryable 判断 ccxt 错误是否属于网络、限频或交易所暂时不可用。
func IsRetryable(err error) bool {
	var ccxtErr *ccxt.Error
	if !errors.As(err, &ccxtErr) {
		return false
	}

	switch ccxtErr.Type {
	case ccxt.NetworkErrorErrType, ccxt.RequestTimeoutErrType,
		ccxt.ExchangeNotAvailableErrType, ccxt.NullResponseErrType, ccxt.BadResponseErrType,
		ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType:
		return true
	}
	return false
}
