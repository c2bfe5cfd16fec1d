package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tradedesk/internal/marketdata"
	"tradedesk/internal/monitor"
	"tradedesk/internal/position"
	"tradedesk/internal/screener"
)

type errorResponse struct {
	Error string `json:"error"`
}

type screenerResponse struct {
	AsOf       string               `json:"as_of"`
	Candidates []screener.Candidate `json:"candidates"`
	Skipped    []screener.Skip      `json:"skipped"`
	Evaluated  int                  `json:"evaluated"`
	Duration   string               `json:"duration"`
	Complete   bool                 `json:"complete"`
}

// Handler 返回完整路由。
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.loggingMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if t := a.cfg.HTTP.WriteTimeout; t > 0 {
			r.Use(middleware.Timeout(t))
		}
		r.Get("/positions", a.handlePositions)
		r.Route("/screener", func(r chi.Router) {
			r.Get("/", a.handleScreener)
			r.Get("/last", a.handleLastScreener)
		})
		r.Get("/events", a.handleEvents)
	})

	return r
}

func (a *App) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		a.logger.Info("HTTP 请求",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handlePositions 持仓源不可用返回 502；存在未知持仓类型时仍返回 200，
// 异常行列在 integrity_errors 中。
func (a *App) handlePositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := a.deps.Positions.Snapshot(ctx)
	switch {
	case err == nil:
	case errors.Is(err, position.ErrDataIntegrity):
		a.logger.Warn("持仓数据异常", zap.Error(err))
	case errors.Is(err, marketdata.ErrSourceUnavailable):
		a.recordError(r, "获取持仓失败", err)
		a.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	default:
		a.recordError(r, "持仓计算失败", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if a.deps.Journal != nil {
		a.deps.Journal.RecordPositions(ctx, snap)
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *App) handleScreener(w http.ResponseWriter, r *http.Request) {
	asOf := a.now().In(marketdata.Exchange)
	if raw := strings.TrimSpace(r.URL.Query().Get("as_of")); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, marketdata.Exchange)
		if err != nil {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "as_of 需为 YYYY-MM-DD"})
			return
		}
		// 包含当日全部K线。
		asOf = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	report := a.screen(r.Context(), asOf)
	a.writeJSON(w, http.StatusOK, toScreenerResponse(report))
}

func (a *App) handleLastScreener(w http.ResponseWriter, _ *http.Request) {
	report, ok := a.lastScreen()
	if !ok {
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "尚未执行筛选"})
		return
	}
	a.writeJSON(w, http.StatusOK, toScreenerResponse(report))
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.deps.Journal == nil {
		a.writeJSON(w, http.StatusNotFound, errorResponse{Error: "未启用事件记录"})
		return
	}

	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			limit = v
		}
	}
	eventType, ok := monitor.ParseEventType(strings.ToLower(strings.TrimSpace(q.Get("type"))))
	if !ok {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "未知事件类型"})
		return
	}

	events, err := a.deps.Journal.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

func (a *App) recordError(r *http.Request, msg string, err error) {
	if a.deps.Journal == nil {
		return
	}
	a.deps.Journal.RecordError(r.Context(), msg, err, map[string]interface{}{
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	})
}

func toScreenerResponse(report screener.Report) screenerResponse {
	return screenerResponse{
		AsOf:       report.AsOf.Format(time.DateOnly),
		Candidates: report.Candidates,
		Skipped:    report.Skipped,
		Evaluated:  report.Evaluated,
		Duration:   report.Duration.String(),
		Complete:   report.Complete,
	}
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("写入响应失败", zap.Error(err))
	}
}
