package dhan

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"tradedesk/internal/instrument"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/position"
)

type positionDTO struct {
	SecurityID    string  `json:"securityId"`
	TradingSymbol string  `json:"tradingSymbol"`
	PositionType  string  `json:"positionType"`
	BuyAvg        float64 `json:"buyAvg"`
	BuyQty        int64   `json:"buyQty"`
	SellAvg       float64 `json:"sellAvg"`
	SellQty       int64   `json:"sellQty"`
	DayBuyValue   float64 `json:"dayBuyValue"`
	DaySellValue  float64 `json:"daySellValue"`
}

// Positions 拉取当日持仓。positionType 原样透传，由分类器判定是否合法。
func (c *Client) Positions(ctx context.Context) ([]position.Position, error) {
	var raw []positionDTO
	if err := c.call(ctx, "positions", http.MethodGet, "/positions", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]position.Position, 0, len(raw))
	for _, dto := range raw {
		id, err := instrument.ParseSecurityID(dto.SecurityID)
		if err != nil {
			return nil, fmt.Errorf("dhan: 持仓 %q 响应格式异常: %w: %w", dto.TradingSymbol, marketdata.ErrSourceUnavailable, err)
		}
		out = append(out, position.Position{
			SecurityID:    id,
			TradingSymbol: dto.TradingSymbol,
			Type:          position.ParseType(dto.PositionType),
			BuyAvg:        dto.BuyAvg,
			BuyQty:        dto.BuyQty,
			SellAvg:       dto.SellAvg,
			SellQty:       dto.SellQty,
			DayBuyValue:   dto.DayBuyValue,
			DaySellValue:  dto.DaySellValue,
		})
	}

	c.logger.Debug("已获取持仓", zap.Int("count", len(out)))
	return out, nil
}
