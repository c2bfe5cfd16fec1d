package position

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/multierr"

	"tradedesk/internal/instrument"
	"tradedesk/internal/marketdata"
)

type fakeLTP map[instrument.SecurityID]float64

func (f fakeLTP) GetLTP(_ context.Context, id instrument.SecurityID) float64 {
	return f[id]
}

type fakeSource struct {
	positions []Position
	err       error
}

func (f *fakeSource) Positions(context.Context) ([]Position, error) {
	return f.positions, f.err
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClassify_FormulasPerType(t *testing.T) {
	positions := []Position{
		{SecurityID: 1, TradingSymbol: "LONGCO", Type: Long, BuyAvg: 95, BuyQty: 10, DayBuyValue: 950},
		{SecurityID: 2, TradingSymbol: "SHORTCO", Type: Short, SellAvg: 210, SellQty: 5, DaySellValue: 1050},
		{SecurityID: 3, TradingSymbol: "DONECO", Type: Closed, BuyQty: 4, SellQty: 4, DayBuyValue: 400, DaySellValue: 460},
	}
	ltp := fakeLTP{1: 100, 2: 200, 3: 999}

	c := NewClassifier(ltp, nil, nil)
	rows, err := c.Classify(context.Background(), positions)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}

	want := []float64{
		100*10 - 950, // LONG: ltp*buy_qty - day_buy_value
		-200*5 + 210, // SHORT: -ltp*sell_qty + sell_avg
		460 - 400,    // CLOSED: day_sell_value - day_buy_value
	}
	for i, row := range rows {
		if row.PnL == nil {
			t.Fatalf("row %d: pnl not populated", i)
		}
		if !near(*row.PnL, want[i]) {
			t.Errorf("row %d (%s): got %v want %v", i, row.Type, *row.PnL, want[i])
		}
		if row.LTP != ltp[row.SecurityID] {
			t.Errorf("row %d: ltp got %v want %v", i, row.LTP, ltp[row.SecurityID])
		}
	}
}

// SHORT 公式使用 sell_avg 而非 day_sell_value，与 LONG 结构不对称。
// 这里锁定现有行为，疑似上游缺陷，修正前需要业务确认。
func TestClassify_ShortFormulaDoesNotMirrorLong(t *testing.T) {
	short := Position{Type: Short, LTP: 200, SellAvg: 210, SellQty: 5, DaySellValue: 1050}

	got, err := PnL(short)
	if err != nil {
		t.Fatalf("PnL returned error: %v", err)
	}
	mirrored := short.DaySellValue - short.LTP*float64(short.SellQty)
	if near(got, mirrored) {
		t.Fatalf("SHORT formula unexpectedly mirrors LONG: %v", got)
	}
	if !near(got, -790) {
		t.Fatalf("SHORT pnl: got %v want -790", got)
	}
}

func TestClassify_ClosedIgnoresLTP(t *testing.T) {
	p := Position{Type: Closed, DayBuyValue: 1000, DaySellValue: 1200}
	for _, ltp := range []float64{0, 1, 5000} {
		p.LTP = ltp
		got, err := PnL(p)
		if err != nil || !near(got, 200) {
			t.Errorf("ltp=%v: got %v, %v want 200", ltp, got, err)
		}
	}
}

func TestClassify_ZeroLTPDegradesWithoutError(t *testing.T) {
	positions := []Position{{SecurityID: 9, Type: Long, BuyQty: 3, DayBuyValue: 300}}

	rows, err := NewClassifier(fakeLTP{}, nil, nil).Classify(context.Background(), positions)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	if rows[0].LTP != 0 || rows[0].PnL == nil || !near(*rows[0].PnL, -300) {
		t.Fatalf("unexpected degraded row: %+v", rows[0])
	}
}

func TestClassify_UnknownTypeIsSurfaced(t *testing.T) {
	positions := []Position{
		{SecurityID: 1, TradingSymbol: "A", Type: Long, BuyQty: 1, DayBuyValue: 10},
		{SecurityID: 2, TradingSymbol: "B", Type: Type("PARTIAL")},
		{SecurityID: 3, TradingSymbol: "C", Type: Type("")},
	}

	rows, err := NewClassifier(fakeLTP{1: 12}, nil, nil).Classify(context.Background(), positions)
	if !errors.Is(err, ErrDataIntegrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("expected 2 integrity errors, got %d", n)
	}

	var ie *IntegrityError
	if !errors.As(err, &ie) || ie.SecurityID != 2 || ie.RawType != "PARTIAL" {
		t.Errorf("unexpected first integrity error: %+v", ie)
	}

	if len(rows) != 3 {
		t.Fatalf("all rows must be returned, got %d", len(rows))
	}
	if rows[0].PnL == nil || !near(*rows[0].PnL, 2) {
		t.Errorf("valid row should still be computed: %+v", rows[0])
	}
	if rows[1].PnL != nil || rows[2].PnL != nil {
		t.Errorf("unknown rows must keep an undefined pnl")
	}
}

func TestClassify_PreservesOrderAndInput(t *testing.T) {
	positions := []Position{
		{SecurityID: 3, Type: Closed},
		{SecurityID: 1, Type: Long},
		{SecurityID: 2, Type: Short},
	}
	rows, err := NewClassifier(fakeLTP{1: 1, 2: 2, 3: 3}, nil, nil).Classify(context.Background(), positions)
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}
	for i := range positions {
		if rows[i].SecurityID != positions[i].SecurityID {
			t.Errorf("order changed at %d", i)
		}
		if positions[i].PnL != nil || positions[i].LTP != 0 {
			t.Errorf("input row %d was mutated", i)
		}
	}
}

func TestParseType(t *testing.T) {
	if got := ParseType(" long "); got != Long {
		t.Errorf("ParseType(long): got %q", got)
	}
	if got := ParseType("Partial"); got.Valid() || got != Type("Partial") {
		t.Errorf("ParseType(Partial): got %q", got)
	}
}

func TestServiceSnapshot_ExcludesAndTotals(t *testing.T) {
	src := &fakeSource{positions: []Position{
		{SecurityID: 10176, TradingSymbol: "HIDDEN", Type: Long, BuyQty: 1, DayBuyValue: 1},
		{SecurityID: 1, TradingSymbol: "A", Type: Long, BuyQty: 2, DayBuyValue: 180},
		{SecurityID: 2, TradingSymbol: "B", Type: Closed, DayBuyValue: 100, DaySellValue: 130},
	}}
	svc := NewService(src, NewClassifier(fakeLTP{1: 100}, nil, nil), []int64{10176}, nil)

	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if len(snap.Positions) != 2 {
		t.Fatalf("expected excluded id to be dropped, got %d rows", len(snap.Positions))
	}
	if !near(snap.TotalPnL, 20+30) {
		t.Errorf("total pnl: got %v want 50", snap.TotalPnL)
	}
	if len(snap.IntegrityErrors) != 0 {
		t.Errorf("unexpected integrity errors: %v", snap.IntegrityErrors)
	}
}

func TestServiceSnapshot_SourceFailure(t *testing.T) {
	svc := NewService(&fakeSource{err: errors.New("401 unauthorized")}, NewClassifier(fakeLTP{}, nil, nil), nil, nil)

	_, err := svc.Snapshot(context.Background())
	if !errors.Is(err, marketdata.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestServiceSnapshot_IntegrityKeepsRows(t *testing.T) {
	src := &fakeSource{positions: []Position{
		{SecurityID: 1, Type: Closed, DayBuyValue: 10, DaySellValue: 15},
		{SecurityID: 2, TradingSymbol: "X", Type: Type("WEIRD")},
	}}
	svc := NewService(src, NewClassifier(fakeLTP{}, nil, nil), nil, nil)

	snap, err := svc.Snapshot(context.Background())
	if !errors.Is(err, ErrDataIntegrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}
	if len(snap.Positions) != 2 || len(snap.IntegrityErrors) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !near(snap.TotalPnL, 5) {
		t.Errorf("total pnl must only sum defined rows, got %v", snap.TotalPnL)
	}
}
