package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tradedesk/internal/instrument"
	"tradedesk/internal/marketdata"
)

// Snapshot 为一次盈亏计算的结果，不做持久化。
type Snapshot struct {
	Positions       []Position `json:"positions"`
	TotalPnL        float64    `json:"total_pnl"`
	IntegrityErrors []string   `json:"integrity_errors"`
	TakenAt         time.Time  `json:"taken_at"`
}

// Service 拉取持仓并计算盈亏。
type Service struct {
	source     Source
	classifier *Classifier
	exclude    map[instrument.SecurityID]struct{}
	logger     *zap.Logger
	now        func() time.Time
}

// NewService 创建 Service，exclude 中的 security_id 不参与展示与计算。
func NewService(source Source, classifier *Classifier, exclude []int64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[instrument.SecurityID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[instrument.SecurityID(id)] = struct{}{}
	}
	return &Service{
		source:     source,
		classifier: classifier,
		exclude:    skip,
		logger:     logger,
		now:        time.Now,
	}
}

// Snapshot 每次调用都重新拉取持仓。
// 持仓源失败时返回包装了 marketdata.ErrSourceUnavailable 的错误；
// 存在未知持仓类型时仍返回完整快照，同时返回包装了 ErrDataIntegrity 的错误。
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	raw, err := s.source.Positions(ctx)
	if err != nil {
		if errors.Is(err, marketdata.ErrSourceUnavailable) {
			return Snapshot{}, fmt.Errorf("position: 获取持仓失败: %w", err)
		}
		return Snapshot{}, fmt.Errorf("position: 获取持仓失败: %w: %w", marketdata.ErrSourceUnavailable, err)
	}

	kept := make([]Position, 0, len(raw))
	for _, p := range raw {
		if _, skip := s.exclude[p.SecurityID]; skip {
			continue
		}
		kept = append(kept, p)
	}

	rows, classifyErr := s.classifier.Classify(ctx, kept)

	snap := Snapshot{
		Positions:       rows,
		IntegrityErrors: []string{},
		TakenAt:         s.now().In(marketdata.Exchange),
	}
	for _, row := range rows {
		if row.PnL != nil {
			snap.TotalPnL += *row.PnL
		}
	}
	for _, e := range multierr.Errors(classifyErr) {
		snap.IntegrityErrors = append(snap.IntegrityErrors, e.Error())
	}

	s.logger.Info("持仓盈亏计算完成",
		zap.Int("positions", len(rows)),
		zap.Int("excluded", len(raw)-len(kept)),
		zap.Int("integrity_errors", len(snap.IntegrityErrors)),
		zap.Float64("total_pnl", snap.TotalPnL),
	)

	if classifyErr != nil {
		return snap, fmt.Errorf("position: 持仓数据异常: %w", classifyErr)
	}
	return snap, nil
}
