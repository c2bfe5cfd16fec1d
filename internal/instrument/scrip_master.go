package instrument

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Dhan api-scrip-master.csv 的列名。
const (
	colExchange   = "SEM_EXM_EXCH_ID"
	colSecurityID = "SEM_SMST_SECURITY_ID"
	colKind       = "SEM_INSTRUMENT_NAME"
	colSymbol     = "SEM_TRADING_SYMBOL"
)

// LoadStats 记录一次主表解析的统计。
type LoadStats struct {
	Rows       int
	Kept       int
	Filtered   int
	InvalidIDs int
}

// LoadScripMaster 按列名解析合约主表。exchange 非空时只保留该交易所的行。
func LoadScripMaster(r io.Reader, exchange string) ([]Instrument, LoadStats, error) {
	var stats LoadStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, fmt.Errorf("instrument: 合约主表为空")
		}
		return nil, stats, fmt.Errorf("instrument: 读取表头失败: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{colExchange, colSecurityID, colKind, colSymbol} {
		if _, ok := idx[required]; !ok {
			return nil, stats, fmt.Errorf("instrument: 合约主表缺少列 %s", required)
		}
	}

	field := func(record []string, col string) string {
		i := idx[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	var rows []Instrument
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("instrument: 解析第 %d 行失败: %w", stats.Rows+2, err)
		}
		stats.Rows++

		exch := strings.ToUpper(field(record, colExchange))
		if exchange != "" && exch != exchange {
			stats.Filtered++
			continue
		}

		id, err := ParseSecurityID(field(record, colSecurityID))
		if err != nil {
			stats.InvalidIDs++
			continue
		}

		rows = append(rows, Instrument{
			SecurityID:    id,
			Exchange:      exch,
			TradingSymbol: field(record, colSymbol),
			Kind:          field(record, colKind),
		})
		stats.Kept++
	}

	return rows, stats, nil
}
