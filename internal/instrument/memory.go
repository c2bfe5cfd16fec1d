package instrument

import (
	"context"
)

// MemoryMaster 为常驻内存的合约主表，进程启动时加载一次。
type MemoryMaster struct {
	byID     map[SecurityID]Instrument
	bySymbol map[string]SecurityID
}

// NewMemoryMaster 从行数据构建主表，重复 id 以首行为准。
func NewMemoryMaster(rows []Instrument) *MemoryMaster {
	m := &MemoryMaster{
		byID:     make(map[SecurityID]Instrument, len(rows)),
		bySymbol: make(map[string]SecurityID),
	}
	for _, row := range rows {
		if _, exists := m.byID[row.SecurityID]; exists {
			continue
		}
		m.byID[row.SecurityID] = row
		if row.Kind == KindEquity {
			key := symbolKey(row.Exchange, row.TradingSymbol)
			if _, exists := m.bySymbol[key]; !exists {
				m.bySymbol[key] = row.SecurityID
			}
		}
	}
	return m
}

// Len 返回主表行数。
func (m *MemoryMaster) Len() int {
	return len(m.byID)
}

// Lookup 实现 Master。
func (m *MemoryMaster) Lookup(_ context.Context, id SecurityID) (Instrument, error) {
	inst, ok := m.byID[id]
	if !ok {
		return Instrument{}, ErrNotFound
	}
	return inst, nil
}

// LookupEquity 实现 Master。
func (m *MemoryMaster) LookupEquity(_ context.Context, exchange, symbol string) (Instrument, error) {
	id, ok := m.bySymbol[symbolKey(exchange, symbol)]
	if !ok {
		return Instrument{}, ErrNotFound
	}
	return m.byID[id], nil
}
