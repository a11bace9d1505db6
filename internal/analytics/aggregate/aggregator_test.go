package aggregate

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	telemetry "energy-insight/internal/telemetry/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type stubQuery struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	err      error
	calls    int
}

func (s *stubQuery) QueryRange(_ context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var result []telemetry.Reading
	for _, reading := range s.readings {
		if reading.Timestamp.Before(start) || !reading.Timestamp.Before(end) {
			continue
		}
		result = append(result, reading)
	}
	return result, nil
}

func (s *stubQuery) QueryRecent(_ context.Context, hours int) ([]telemetry.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.readings, nil
}

func (s *stubQuery) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func reading(device string, consumption float64, at time.Time) telemetry.Reading {
	return telemetry.Reading{DeviceName: device, Consumption: consumption, Timestamp: at, Source: telemetry.SourceIoT}
}

func newTestAggregator(t *testing.T, query telemetry.ReadingQuery, clock Clock) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(query, 0.12, WithClock(clock), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return agg
}

func TestNewAggregatorNilQuery(t *testing.T) {
	if _, err := NewAggregator(nil, 0.12); err == nil {
		t.Fatal("expected error for nil query")
	}
}

func TestStatisticsEmpty(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	agg := newTestAggregator(t, &stubQuery{}, clock)

	got := agg.Statistics(context.Background(), 30)
	if got.TotalConsumption != 0 || got.DaysWithData != 0 || got.TotalCost != 0 {
		t.Fatalf("expected zero statistics, got %+v", got)
	}
}

func TestStatisticsUpstreamErrorDegradesToZero(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	agg := newTestAggregator(t, &stubQuery{err: errors.New("store down")}, clock)

	got := agg.Statistics(context.Background(), 30)
	if got.TotalConsumption != 0 || got.DaysWithData != 0 {
		t.Fatalf("expected zero statistics on upstream error, got %+v", got)
	}
}

func TestStatisticsDailyFigures(t *testing.T) {
	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base.AddDate(0, 0, 2).Add(12 * time.Hour)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("heater", 2, base.Add(8*time.Hour)),
		reading("heater", 3, base.Add(20*time.Hour)),
		reading("fridge", 1, base.AddDate(0, 0, 1).Add(9*time.Hour)),
		reading("fridge", 4, base.AddDate(0, 0, 2).Add(9*time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	got := agg.Statistics(context.Background(), 7)
	if got.TotalConsumption != 10 {
		t.Fatalf("expected total 10, got %f", got.TotalConsumption)
	}
	if got.DaysWithData != 3 {
		t.Fatalf("expected 3 days with data, got %d", got.DaysWithData)
	}
	// Daily totals are 5, 1, 4.
	if math.Abs(got.AverageDaily-10.0/3) > 1e-9 {
		t.Fatalf("expected average daily %f, got %f", 10.0/3, got.AverageDaily)
	}
	if got.MinDaily != 1 || got.MaxDaily != 5 || got.MedianDaily != 4 {
		t.Fatalf("unexpected daily order statistics: %+v", got)
	}
	if math.Abs(got.TotalCost-10*0.12) > 1e-9 {
		t.Fatalf("expected cost %f, got %f", 10*0.12, got.TotalCost)
	}
}

func TestDeviceBreakdownPercentagesSumTo100(t *testing.T) {
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base.Add(36 * time.Hour)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("heater", 7.5, base.Add(1*time.Hour)),
		reading("fridge", 2.25, base.Add(2*time.Hour)),
		reading("oven", 1.1, base.Add(3*time.Hour)),
		reading("heater", 3.4, base.Add(4*time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	breakdown := agg.DeviceBreakdown(context.Background(), 7)
	if len(breakdown) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(breakdown))
	}
	var pctSum float64
	for _, usage := range breakdown {
		pctSum += usage.Percentage
	}
	if math.Abs(pctSum-100) > 0.1 {
		t.Fatalf("expected percentages to sum to 100, got %f", pctSum)
	}
	if breakdown[0].DeviceName != "heater" {
		t.Fatalf("expected heater first (largest total), got %s", breakdown[0].DeviceName)
	}
}

func TestHourlyPattern(t *testing.T) {
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: base.Add(30 * time.Hour)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, base.Add(8 * time.Hour)),
		reading("b", 4, base.Add(8*time.Hour + 30*time.Minute)),
		reading("a", 1, base.Add(20 * time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	pattern := agg.HourlyPattern(context.Background(), 7)
	if len(pattern) != 2 {
		t.Fatalf("expected 2 hour buckets, got %d", len(pattern))
	}
	if pattern[0].Hour != 8 || pattern[0].Mean != 3 || pattern[0].Count != 2 {
		t.Fatalf("unexpected bucket for hour 8: %+v", pattern[0])
	}
	if pattern[1].Hour != 20 || pattern[1].Mean != 1 {
		t.Fatalf("unexpected bucket for hour 20: %+v", pattern[1])
	}
}

func TestWeeklyPattern(t *testing.T) {
	// 2026-08-29 is a Saturday.
	saturday := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: monday.Add(4 * time.Hour)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 6, saturday),
		reading("a", 2, monday),
	}}
	agg := newTestAggregator(t, query, clock)

	pattern := agg.WeeklyPattern(context.Background(), 4)
	if len(pattern) != 2 {
		t.Fatalf("expected 2 weekday buckets, got %d", len(pattern))
	}
	if pattern[0].Weekday != time.Monday || pattern[0].Total != 2 {
		t.Fatalf("unexpected monday bucket: %+v", pattern[0])
	}
	if pattern[1].Weekday != time.Saturday || pattern[1].Total != 6 {
		t.Fatalf("unexpected saturday bucket: %+v", pattern[1])
	}
}

func TestStatisticsCachedWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, clock.Now().Add(-time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	first := agg.Statistics(context.Background(), 7)
	calls := query.Calls()
	second := agg.Statistics(context.Background(), 7)
	if query.Calls() != calls {
		t.Fatalf("expected cached result, store was queried again")
	}
	if first != second {
		t.Fatalf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestStatisticsCacheExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, clock.Now().Add(-time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	_ = agg.Statistics(context.Background(), 7)
	calls := query.Calls()
	clock.Add(6 * time.Minute)
	_ = agg.Statistics(context.Background(), 7)
	if query.Calls() == calls {
		t.Fatal("expected fresh query after TTL expiry")
	}
}

func TestCacheTTLOptionUsesConfiguredClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, clock.Now().Add(-time.Hour)),
	}}
	// TTL option applied before the clock option; the cache must still
	// run on the injected clock.
	agg, err := NewAggregator(query, 0.12,
		WithCacheTTL(time.Minute),
		WithClock(clock),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}

	_ = agg.Statistics(context.Background(), 7)
	calls := query.Calls()
	_ = agg.Statistics(context.Background(), 7)
	if query.Calls() != calls {
		t.Fatal("expected cached result inside the TTL")
	}
	clock.Add(2 * time.Minute)
	_ = agg.Statistics(context.Background(), 7)
	if query.Calls() == calls {
		t.Fatal("expected fresh query after advancing the injected clock past the TTL")
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, clock.Now().Add(-time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	_ = agg.Statistics(context.Background(), 7)
	calls := query.Calls()
	agg.Invalidate()
	_ = agg.Statistics(context.Background(), 7)
	if query.Calls() == calls {
		t.Fatal("expected fresh query after invalidation")
	}
}

func TestRangeTotalEmptyIsZero(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	agg := newTestAggregator(t, &stubQuery{}, clock)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if got := agg.RangeTotal(context.Background(), start, start.AddDate(0, 0, 7)); got != 0 {
		t.Fatalf("expected 0 for empty range, got %f", got)
	}
}

func TestDailyTotalSelectsSingleDay(t *testing.T) {
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: day.Add(40 * time.Hour)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, day.Add(5*time.Hour)),
		reading("a", 3, day.Add(15*time.Hour)),
		reading("a", 9, day.AddDate(0, 0, 1).Add(5*time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)
	if got := agg.DailyTotal(context.Background(), day.Add(10*time.Hour)); got != 5 {
		t.Fatalf("expected daily total 5, got %f", got)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	query := &stubQuery{readings: []telemetry.Reading{
		reading("a", 2, clock.Now().Add(-time.Hour)),
	}}
	agg := newTestAggregator(t, query, clock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = agg.Statistics(context.Background(), 7)
				agg.Invalidate()
			}
		}()
	}
	wg.Wait()
}
