package screener

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tradedesk/internal/indicator"
	"tradedesk/internal/instrument"
	"tradedesk/internal/marketdata"
	"tradedesk/internal/metrics"
)

type fakeHistory struct {
	series map[string][]marketdata.PriceBar
	errs   map[string]error
	calls  []marketdata.HistoryRequest
}

func (f *fakeHistory) HistoricalSeries(_ context.Context, req marketdata.HistoryRequest) ([]marketdata.PriceBar, error) {
	f.calls = append(f.calls, req)
	if err := f.errs[req.Ticker]; err != nil {
		return nil, err
	}
	bars := f.series[req.Ticker]
	return append([]marketdata.PriceBar(nil), bars...), nil
}

func monday(week int) time.Time {
	// 2026-09-07 为周一。
	return time.Date(2026, time.September, 7, 0, 0, 0, 0, marketdata.Exchange).AddDate(0, 0, 7*week)
}

// 两根周线：前一周收盘 prevClose，最后一周 H=100 L=95 C=97。
// k=1/3 时最后一周 EMA = 97/3 + prevClose*2/3。
func twoWeekSeries(prevClose float64) []marketdata.PriceBar {
	return []marketdata.PriceBar{
		{Timestamp: monday(0), Open: prevClose, High: prevClose + 1, Low: prevClose - 1, Close: prevClose, Volume: 10},
		{Timestamp: monday(1), Open: 98, High: 100, Low: 95, Close: 97, Volume: 10},
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Pause = 0
	return opts
}

func TestBreakout_Predicate(t *testing.T) {
	c, ok := Breakout("ABC", indicator.WeeklyBar{High: 100, Low: 95, EMA: 101})
	if !ok {
		t.Fatal("expected ema above high to be a candidate")
	}
	if c != (Candidate{Ticker: "ABC", Entry: 100, StopLoss: 95}) {
		t.Errorf("unexpected candidate: %+v", c)
	}

	if _, ok := Breakout("ABC", indicator.WeeklyBar{High: 100, Low: 95, EMA: 99}); ok {
		t.Error("expected ema below high to be rejected")
	}
	if _, ok := Breakout("ABC", indicator.WeeklyBar{High: 100, Low: 95, EMA: 100}); ok {
		t.Error("expected ema equal to high to be rejected")
	}
}

func TestScreen_EmitsBreakoutFromSeries(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{
		"UP":   twoWeekSeries(103), // ema = 101
		"FLAT": twoWeekSeries(100), // ema = 99
	}}
	s := New(src, testOptions(), nil, nil)

	asOf := time.Date(2026, time.September, 18, 0, 0, 0, 0, marketdata.Exchange)
	got := s.Screen(context.Background(), []string{"UP", "FLAT"}, asOf)

	want := []Candidate{{Ticker: "UP", Entry: 100, StopLoss: 95}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}

	req := src.calls[0]
	if req.Segment != instrument.SegmentCashEquity || req.Kind != instrument.KindEquity || req.Interval != marketdata.IntervalDaily {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.From.Format(time.DateOnly) != "2022-01-01" || !req.To.Equal(asOf) {
		t.Errorf("unexpected window: %v - %v", req.From, req.To)
	}
}

func TestRun_OneFailureDoesNotStopTheRest(t *testing.T) {
	src := &fakeHistory{
		series: map[string][]marketdata.PriceBar{
			"A": twoWeekSeries(103),
			"C": twoWeekSeries(103),
			"D": nil,
		},
		errs: map[string]error{"B": errors.New("429 too many requests")},
	}
	m := metrics.New()
	s := New(src, testOptions(), m, nil)

	report := s.Run(context.Background(), []string{"A", "B", "C", "D"}, monday(2))

	if len(report.Candidates) != 2 || report.Candidates[0].Ticker != "A" || report.Candidates[1].Ticker != "C" {
		t.Fatalf("unexpected candidates: %+v", report.Candidates)
	}
	if report.Evaluated != 4 {
		t.Errorf("expected all 4 tickers evaluated, got %d", report.Evaluated)
	}
	if len(report.Skipped) != 2 || report.Skipped[0].Ticker != "B" || report.Skipped[1].Ticker != "D" {
		t.Fatalf("unexpected skipped: %+v", report.Skipped)
	}
	if !errors.Is(report.Err(), indicator.ErrInsufficientData) {
		t.Errorf("expected empty series to surface ErrInsufficientData, got %v", report.Err())
	}

	if got := testutil.ToFloat64(m.ScreenerTickers.WithLabelValues("skipped")); got != 2 {
		t.Errorf("skipped counter: got %v want 2", got)
	}
	if got := testutil.ToFloat64(m.ScreenerTickers.WithLabelValues("candidate")); got != 2 {
		t.Errorf("candidate counter: got %v want 2", got)
	}
}

func TestRun_ExcludesIndexPseudoTickers(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"INFY": twoWeekSeries(103)}}
	s := New(src, testOptions(), nil, nil)

	report := s.Run(context.Background(), []string{"NIFTY 50", "INFY", "NIFTY NEXT 50"}, monday(2))

	if len(src.calls) != 1 || src.calls[0].Ticker != "INFY" {
		t.Fatalf("index names must not be fetched, calls: %+v", src.calls)
	}
	if len(report.Candidates) != 1 {
		t.Fatalf("unexpected candidates: %+v", report.Candidates)
	}
}

func TestRun_TALibWarmUpIsSkipped(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"NEW": twoWeekSeries(103)}}
	opts := testOptions()
	opts.Convention = indicator.ConventionTALib
	s := New(src, opts, nil, nil)

	report := s.Run(context.Background(), []string{"NEW"}, monday(2))
	if len(report.Candidates) != 0 || len(report.Skipped) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !errors.Is(report.Err(), ErrMissingEMA) {
		t.Errorf("expected ErrMissingEMA, got %v", report.Err())
	}
}

func TestEvaluate_SortsSourceOutput(t *testing.T) {
	series := twoWeekSeries(103)
	series[0], series[1] = series[1], series[0]
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"REV": series}}
	s := New(src, testOptions(), nil, nil)

	out := s.Evaluate(context.Background(), "REV", monday(2))
	if out.Err != nil || out.Candidate == nil {
		t.Fatalf("expected candidate, got %+v", out)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"A": twoWeekSeries(103), "B": twoWeekSeries(103), "C": twoWeekSeries(103)}}
	opts := testOptions()
	opts.Pause = time.Hour
	s := New(src, opts, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := s.Run(ctx, []string{"A", "B", "C"}, monday(2))

	if report.Evaluated != 1 {
		t.Fatalf("expected to stop after the first ticker, evaluated %d", report.Evaluated)
	}
	if report.Complete {
		t.Error("cancelled run must not be reported complete")
	}
	if !errors.Is(report.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", report.Err())
	}
	if len(report.Skipped) != 2 || report.Skipped[0].Ticker != "B" || report.Skipped[1].Ticker != "C" {
		t.Fatalf("unevaluated tickers should be listed as skipped: %+v", report.Skipped)
	}
	if !strings.Contains(report.Skipped[0].Reason, context.Canceled.Error()) {
		t.Errorf("skip reason should carry the cancellation: %q", report.Skipped[0].Reason)
	}
}

func TestRun_DeadlineDuringPauseIsIncomplete(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"A": twoWeekSeries(103), "B": twoWeekSeries(103), "C": twoWeekSeries(103)}}
	opts := testOptions()
	opts.Pause = 50 * time.Millisecond
	s := New(src, opts, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report := s.Run(ctx, []string{"A", "B", "C"}, monday(2))

	if report.Complete || report.Evaluated != 1 || len(report.Skipped) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !errors.Is(report.Err(), context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", report.Err())
	}

	raw, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"complete":false`) || !strings.Contains(string(raw), `"ticker":"C"`) {
		t.Errorf("serialized report hides the cancellation: %s", raw)
	}
}

func TestRun_FinishedRunIsComplete(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"A": twoWeekSeries(103)}}
	report := New(src, testOptions(), nil, nil).Run(context.Background(), []string{"A", "B"}, monday(2))

	if !report.Complete || report.Evaluated != 2 {
		t.Fatalf("expected a complete run over both tickers: %+v", report)
	}
}

func TestNew_DefaultsExclusions(t *testing.T) {
	src := &fakeHistory{series: map[string][]marketdata.PriceBar{"A": twoWeekSeries(103)}}
	report := New(src, Options{}, nil, nil).Run(context.Background(), []string{"NIFTY 50", "A", "nifty next 50"}, monday(2))

	if report.Evaluated != 1 || len(report.Candidates) != 1 || report.Candidates[0].Ticker != "A" {
		t.Fatalf("index pseudo-tickers should be excluded by default: %+v", report)
	}

	kept := New(src, Options{Exclude: []string{}}, nil, nil).Run(context.Background(), []string{"NIFTY 50", "A"}, monday(2))
	if kept.Evaluated != 2 {
		t.Fatalf("an explicit empty exclusion list should be honoured, evaluated %d", kept.Evaluated)
	}
}

func TestTwoWeekSeriesEMA(t *testing.T) {
	weeks, err := indicator.ToWeekly(twoWeekSeries(103), 5, indicator.ConventionRecursive)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}
	if got := weeks[len(weeks)-1].EMA; math.Abs(got-101) > 1e-9 {
		t.Fatalf("fixture EMA: got %v want 101", got)
	}
}
