package monitor

import (
	"time"

	"tradedesk/internal/screener"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventScreenerRun      EventType = "screener_run"
	EventPositionSnapshot EventType = "position_snapshot"
	EventError            EventType = "error"
)

// ParseEventType 规整查询参数，未知类型返回 false。
func ParseEventType(raw string) (EventType, bool) {
	switch t := EventType(raw); t {
	case "", EventScreenerRun, EventPositionSnapshot, EventError:
		return t, true
	default:
		return "", false
	}
}

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ScreenerRunPayload 只记录运行元数据，候选结果不落库。
type ScreenerRunPayload struct {
	AsOf         string          `json:"as_of"`
	Evaluated    int             `json:"evaluated"`
	SkippedCount int             `json:"skipped_count"`
	Skipped      []screener.Skip `json:"skipped,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
}

// PositionSnapshotPayload 只记录持仓行数与数据异常，盈亏每次实时计算。
type PositionSnapshotPayload struct {
	Positions       int      `json:"positions"`
	IntegrityErrors []string `json:"integrity_errors,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
