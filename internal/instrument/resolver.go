package instrument

import (
	"context"
	"fmt"
)

// Resolver 将 security_id 映射为合约类型与市场分段。
type Resolver struct {
	master Master
}

// NewResolver 创建 Resolver。
func NewResolver(master Master) *Resolver {
	return &Resolver{master: master}
}

// Resolve 精确匹配 security_id，未命中时返回包装了 ErrNotFound 的错误。
// 合约类型原样透传，分段由 SegmentFor 推导。
func (r *Resolver) Resolve(ctx context.Context, id SecurityID) (Instrument, error) {
	inst, err := r.master.Lookup(ctx, id)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: 解析 %s 失败: %w", id, err)
	}
	inst.Segment = SegmentFor(inst.Kind)
	return inst, nil
}

// ResolveTicker 查找 NSE 现货股票代码对应的合约。
func (r *Resolver) ResolveTicker(ctx context.Context, ticker string) (Instrument, error) {
	inst, err := r.master.LookupEquity(ctx, ExchangeNSE, ticker)
	if err != nil {
		return Instrument{}, fmt.Errorf("instrument: 解析代码 %q 失败: %w", ticker, err)
	}
	inst.Segment = SegmentFor(inst.Kind)
	return inst, nil
}
