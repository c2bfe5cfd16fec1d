package instrument

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tradedesk/internal/store"
)

// SQLiteMaster 将合约主表保存在 SQLite 中，重启后无需重新解析 CSV。
type SQLiteMaster struct {
	store *store.Store
}

// NewSQLiteMaster 初始化表结构。
func NewSQLiteMaster(s *store.Store) (*SQLiteMaster, error) {
	if s == nil {
		return nil, fmt.Errorf("instrument: store 不能为空")
	}
	m := &SQLiteMaster{store: s}
	if err := m.initSchema(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMaster) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS instruments (
	security_id INTEGER PRIMARY KEY,
	exchange TEXT NOT NULL,
	trading_symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	symbol_key TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instruments_symbol ON instruments(symbol_key, kind);
`
	if _, err := m.store.DB().Exec(stmt); err != nil {
		return fmt.Errorf("instrument: 初始化表失败: %w", err)
	}
	return nil
}

// Import 以单个事务整体替换主表内容，返回写入行数。重复 id 以首行为准。
func (m *SQLiteMaster) Import(ctx context.Context, rows []Instrument) (int, error) {
	written := 0
	err := m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM instruments`); err != nil {
			return fmt.Errorf("instrument: 清空主表失败: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO instruments (security_id, exchange, trading_symbol, kind, symbol_key) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("instrument: 预编译插入语句失败: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			res, err := stmt.ExecContext(ctx,
				int64(row.SecurityID),
				strings.ToUpper(strings.TrimSpace(row.Exchange)),
				strings.TrimSpace(row.TradingSymbol),
				row.Kind,
				symbolKey(row.Exchange, row.TradingSymbol),
			)
			if err != nil {
				return fmt.Errorf("instrument: 写入 %s 失败: %w", row.SecurityID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Count 返回主表行数。
func (m *SQLiteMaster) Count(ctx context.Context) (int, error) {
	var n int
	if err := m.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM instruments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("instrument: 统计主表失败: %w", err)
	}
	return n, nil
}

// Lookup 实现 Master。
func (m *SQLiteMaster) Lookup(ctx context.Context, id SecurityID) (Instrument, error) {
	row := m.store.DB().QueryRowContext(ctx,
		`SELECT security_id, exchange, trading_symbol, kind FROM instruments WHERE security_id = ?`, int64(id))
	return scanInstrument(row)
}

// LookupEquity 实现 Master。
func (m *SQLiteMaster) LookupEquity(ctx context.Context, exchange, symbol string) (Instrument, error) {
	row := m.store.DB().QueryRowContext(ctx,
		`SELECT security_id, exchange, trading_symbol, kind FROM instruments WHERE symbol_key = ? AND kind = ? ORDER BY security_id LIMIT 1`,
		symbolKey(exchange, symbol), KindEquity)
	return scanInstrument(row)
}

func scanInstrument(row *sql.Row) (Instrument, error) {
	var (
		inst Instrument
		id   int64
	)
	if err := row.Scan(&id, &inst.Exchange, &inst.TradingSymbol, &inst.Kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instrument{}, ErrNotFound
		}
		return Instrument{}, fmt.Errorf("instrument: 查询主表失败: %w", err)
	}
	inst.SecurityID = SecurityID(id)
	return inst, nil
}
