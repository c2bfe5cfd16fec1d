package indicator

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"tradedesk/internal/marketdata"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, marketdata.Exchange)
}

func priceBar(ts time.Time, o, h, l, c float64, v int64) marketdata.PriceBar {
	return marketdata.PriceBar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestToWeekly_SingleBar(t *testing.T) {
	ts := day(2026, time.October, 14)
	weeks, err := ToWeekly([]marketdata.PriceBar{priceBar(ts, 100, 110, 95, 105, 1000)}, 5, ConventionRecursive)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}
	if len(weeks) != 1 {
		t.Fatalf("expected 1 weekly bar, got %d", len(weeks))
	}
	w := weeks[0]
	if w.Open != 100 || w.High != 110 || w.Low != 95 || w.Close != 105 || w.Volume != 1000 {
		t.Errorf("unexpected OHLCV: %+v", w)
	}
	if w.EMA != 105 {
		t.Errorf("expected EMA equal to close, got %v", w.EMA)
	}
	if !w.PeriodStart.Equal(ts) {
		t.Errorf("unexpected period start: %v", w.PeriodStart)
	}
}

func TestToWeekly_AggregatesWithinWeek(t *testing.T) {
	bars := []marketdata.PriceBar{
		priceBar(day(2026, time.October, 12), 100, 104, 99, 103, 10), // Mon
		priceBar(day(2026, time.October, 13), 103, 108, 101, 107, 20),
		priceBar(day(2026, time.October, 16), 107, 109, 97, 98, 30), // Fri
		priceBar(day(2026, time.October, 19), 98, 99, 90, 91, 40),   // next Mon
	}

	weeks, err := ToWeekly(bars, 5, ConventionRecursive)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}
	if len(weeks) != 2 {
		t.Fatalf("expected 2 weekly bars, got %d", len(weeks))
	}

	w := weeks[0]
	if w.Year != 2026 || w.Week != 42 {
		t.Errorf("unexpected key: %d-W%d", w.Year, w.Week)
	}
	if w.Open != 100 || w.High != 109 || w.Low != 97 || w.Close != 98 || w.Volume != 60 {
		t.Errorf("unexpected aggregate: %+v", w)
	}
	if !w.PeriodStart.Equal(day(2026, time.October, 12)) {
		t.Errorf("unexpected period start: %v", w.PeriodStart)
	}

	// k=1/3: 91/3 + 98*2/3
	if want := 91.0/3 + 98.0*2/3; math.Abs(weeks[1].EMA-want) > tolerance {
		t.Errorf("second EMA: got %v want %v", weeks[1].EMA, want)
	}
}

func TestToWeekly_ISOYearBoundaries(t *testing.T) {
	bars := []marketdata.PriceBar{
		priceBar(day(2020, time.December, 31), 1, 1, 1, 1, 1), // 2020-W53
		priceBar(day(2021, time.January, 1), 2, 2, 2, 2, 1),   // 2020-W53
		priceBar(day(2021, time.January, 4), 3, 3, 3, 3, 1),   // 2021-W01
		priceBar(day(2024, time.December, 27), 4, 4, 4, 4, 1), // 2024-W52
		priceBar(day(2024, time.December, 30), 5, 5, 5, 5, 1), // 2025-W01
		priceBar(day(2025, time.January, 3), 6, 6, 6, 6, 1),   // 2025-W01
	}

	weeks, err := ToWeekly(bars, 5, ConventionRecursive)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}

	want := []struct {
		year, week int
		close      float64
	}{
		{2020, 53, 2},
		{2021, 1, 3},
		{2024, 52, 4},
		{2025, 1, 6},
	}
	if len(weeks) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(weeks))
	}
	for i, w := range want {
		if weeks[i].Year != w.year || weeks[i].Week != w.week || weeks[i].Close != w.close {
			t.Errorf("bucket %d: got %d-W%d close=%v want %d-W%d close=%v",
				i, weeks[i].Year, weeks[i].Week, weeks[i].Close, w.year, w.week, w.close)
		}
	}
	if !weeks[3].PeriodStart.Equal(day(2024, time.December, 30)) {
		t.Errorf("2025-W01 must start on 2024-12-30, got %v", weeks[3].PeriodStart)
	}
}

func TestToWeekly_SortedScrambledInputMatches(t *testing.T) {
	var bars []marketdata.PriceBar
	start := day(2026, time.January, 5)
	for i := 0; i < 40; i++ {
		p := 100 + float64(i%7) - float64(i%3)
		bars = append(bars, priceBar(start.AddDate(0, 0, i), p, p+2, p-2, p+1, int64(i)))
	}

	want, err := ToWeekly(bars, 5, ConventionRecursive)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}

	scrambled := append([]marketdata.PriceBar(nil), bars...)
	rand.New(rand.NewSource(7)).Shuffle(len(scrambled), func(i, j int) {
		scrambled[i], scrambled[j] = scrambled[j], scrambled[i]
	})
	marketdata.SortChronological(scrambled)

	got, err := ToWeekly(scrambled, 5, ConventionRecursive)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("bucket count mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Year != w.Year || g.Week != w.Week || g.Open != w.Open || g.High != w.High ||
			g.Low != w.Low || g.Close != w.Close || g.Volume != w.Volume || g.EMA != w.EMA ||
			!g.PeriodStart.Equal(w.PeriodStart) {
			t.Errorf("bucket %d differs: got %+v want %+v", i, g, w)
		}
	}
}

func TestToWeekly_TALibWarmUp(t *testing.T) {
	bars := []marketdata.PriceBar{
		priceBar(day(2026, time.September, 7), 1, 1, 1, 10, 1),
		priceBar(day(2026, time.September, 14), 1, 1, 1, 12, 1),
	}
	weeks, err := ToWeekly(bars, 5, ConventionTALib)
	if err != nil {
		t.Fatalf("ToWeekly returned error: %v", err)
	}
	for i, w := range weeks {
		if !math.IsNaN(w.EMA) {
			t.Errorf("week %d: expected NaN EMA before %d buckets, got %v", i, 5, w.EMA)
		}
	}
}

func TestToWeekly_EmptyInput(t *testing.T) {
	if _, err := ToWeekly(nil, 5, ConventionRecursive); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
