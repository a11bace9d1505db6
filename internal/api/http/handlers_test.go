package apihttp

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"energy-insight/internal/analytics/aggregate"
	"energy-insight/internal/analytics/anomaly"
	"energy-insight/internal/analytics/cost"
	"energy-insight/internal/analytics/efficiency"
	"energy-insight/internal/analytics/trend"
	telemetry "energy-insight/internal/telemetry/domain"
	"energy-insight/internal/telemetry/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubQuery struct {
	readings []telemetry.Reading
	err      error
}

func (q *stubQuery) QueryRange(_ context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	if q.err != nil {
		return nil, q.err
	}
	var out []telemetry.Reading
	for _, reading := range q.readings {
		if !reading.Timestamp.Before(start) && reading.Timestamp.Before(end) {
			out = append(out, reading)
		}
	}
	return out, nil
}

func (q *stubQuery) QueryRecent(_ context.Context, hours int) ([]telemetry.Reading, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.readings, nil
}

func testNow() time.Time {
	return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
}

func newTestAggregator(t *testing.T, readings []telemetry.Reading) *aggregate.Aggregator {
	t.Helper()
	aggregator, err := aggregate.NewAggregator(
		&stubQuery{readings: readings},
		0.12,
		aggregate.WithClock(fixedClock{now: testNow()}),
		aggregate.WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return aggregator
}

func sampleReadings() []telemetry.Reading {
	now := testNow()
	var readings []telemetry.Reading
	for day := 1; day <= 10; day++ {
		ts := now.AddDate(0, 0, -day)
		readings = append(readings, telemetry.Reading{
			DeviceName:  "fridge",
			Consumption: 1.5,
			Timestamp:   ts,
			Source:      telemetry.SourceIoT,
		})
		readings = append(readings, telemetry.Reading{
			DeviceName:  "heater",
			Consumption: 3.0,
			Timestamp:   ts.Add(time.Hour),
			Source:      telemetry.SourceIoT,
		})
	}
	return readings
}

func TestStatisticsHandlerReturnsJSON(t *testing.T) {
	handler := NewStatisticsHandler(newTestAggregator(t, sampleReadings()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics?days=30", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var stats aggregate.Statistics
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalConsumption != 45.0 {
		t.Fatalf("total = %v, want 45", stats.TotalConsumption)
	}
	if stats.DaysWithData != 10 {
		t.Fatalf("days with data = %d, want 10", stats.DaysWithData)
	}
}

func TestStatisticsHandlerRejectsBadDays(t *testing.T) {
	handler := NewStatisticsHandler(newTestAggregator(t, nil))

	for _, raw := range []string{"abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics?days="+raw, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("days=%q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestStatisticsHandlerMethodNotAllowed(t *testing.T) {
	handler := NewStatisticsHandler(newTestAggregator(t, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/statistics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestStatisticsHandlerNotReady(t *testing.T) {
	handler := NewStatisticsHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCurrentHandler(t *testing.T) {
	readings := []telemetry.Reading{{
		DeviceName:  "fridge",
		Consumption: 0.8,
		Timestamp:   testNow().Add(-10 * time.Minute),
		Source:      telemetry.SourceIoT,
	}}
	handler := NewCurrentHandler(newTestAggregator(t, readings))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/current", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]float64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["current_consumption"] != 0.8 {
		t.Fatalf("current = %v, want 0.8", body["current_consumption"])
	}
}

func TestBreakdownHandler(t *testing.T) {
	handler := NewBreakdownHandler(newTestAggregator(t, sampleReadings()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/breakdown", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var devices []aggregate.DeviceUsage
	if err := json.NewDecoder(rec.Body).Decode(&devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	if devices[0].DeviceName != "heater" {
		t.Fatalf("top device = %q, want heater", devices[0].DeviceName)
	}
}

func TestPatternsHandlerRoutes(t *testing.T) {
	handler := NewPatternsHandler(newTestAggregator(t, sampleReadings()))

	for _, path := range []string{"/api/v1/patterns/hourly", "/api/v1/patterns/weekly"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns/monthly", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown pattern: status = %d, want 404", rec.Code)
	}
}

func TestEfficiencyHandler(t *testing.T) {
	scorer, err := efficiency.NewScorer(newTestAggregator(t, sampleReadings()))
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	handler := NewEfficiencyHandler(scorer)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/efficiency?days=30", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var score efficiency.Score
	if err := json.NewDecoder(rec.Body).Decode(&score); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if score.Grade == "" {
		t.Fatal("expected a grade")
	}
}

func TestTrendsHandler(t *testing.T) {
	detector, err := trend.NewDetector(
		newTestAggregator(t, sampleReadings()),
		trend.WithClock(fixedClock{now: testNow()}),
	)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	handler := NewTrendsHandler(detector)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trends", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var report trend.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Summary == "" {
		t.Fatal("expected a summary")
	}
}

func TestCostHandler(t *testing.T) {
	analyzer, err := cost.NewAnalyzer(newTestAggregator(t, sampleReadings()))
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	handler := NewCostHandler(analyzer)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cost?days=30", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var analysis cost.Analysis
	if err := json.NewDecoder(rec.Body).Decode(&analysis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if analysis.TotalCost != 5.4 {
		t.Fatalf("total cost = %v, want 5.4", analysis.TotalCost)
	}
}

type memoryAnomalyRepo struct {
	stored []anomaly.Anomaly
	err    error
}

func (r *memoryAnomalyRepo) InsertAnomalies(_ context.Context, anomalies []anomaly.Anomaly) error {
	if r.err != nil {
		return r.err
	}
	r.stored = append(r.stored, anomalies...)
	return nil
}

func (r *memoryAnomalyRepo) RecentAnomalies(_ context.Context, _ int) ([]anomaly.Anomaly, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.stored, nil
}

func newTestEngine(t *testing.T, readings []telemetry.Reading, repo anomaly.Repository) *anomaly.Engine {
	t.Helper()
	opts := []anomaly.Option{
		anomaly.WithClock(fixedClock{now: testNow()}),
		anomaly.WithLogger(log.New(io.Discard, "", 0)),
	}
	if repo != nil {
		opts = append(opts, anomaly.WithRepository(repo))
	}
	engine, err := anomaly.NewEngine(&stubQuery{readings: readings}, anomaly.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestAnomaliesDetectEndpoint(t *testing.T) {
	readings := []telemetry.Reading{{
		DeviceName:  "heater",
		Consumption: 9.0,
		Timestamp:   testNow().Add(-time.Hour),
		Source:      telemetry.SourceIoT,
	}}
	handler := NewAnomaliesHandler(newTestEngine(t, readings, nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/anomalies/detect", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var anomalies []anomaly.Anomaly
	if err := json.NewDecoder(rec.Body).Decode(&anomalies); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, item := range anomalies {
		if item.Type == anomaly.TypeHighUsage && item.DeviceName == "heater" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a high usage anomaly, got %+v", anomalies)
	}
}

func TestAnomaliesDetectRequiresPost(t *testing.T) {
	handler := NewAnomaliesHandler(newTestEngine(t, nil, nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies/detect", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAnomaliesListEndpoint(t *testing.T) {
	repo := &memoryAnomalyRepo{stored: []anomaly.Anomaly{{
		DeviceName: "heater",
		Type:       anomaly.TypeHighUsage,
		Severity:   anomaly.SeverityMedium,
		Message:    "High energy usage detected: 6.00 kWh (threshold: 5 kWh)",
		Timestamp:  testNow(),
	}}}
	handler := NewAnomaliesHandler(newTestEngine(t, nil, repo), repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies?hours=24", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var anomalies []anomaly.Anomaly
	if err := json.NewDecoder(rec.Body).Decode(&anomalies); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(anomalies))
	}
}

func TestAnomaliesListWithoutRepository(t *testing.T) {
	handler := NewAnomaliesHandler(newTestEngine(t, nil, nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAnomaliesSummaryEndpoint(t *testing.T) {
	repo := &memoryAnomalyRepo{stored: []anomaly.Anomaly{
		{DeviceName: "a", Type: anomaly.TypeHighUsage, Severity: anomaly.SeverityHigh, Message: "m", Timestamp: testNow()},
		{DeviceName: "b", Type: anomaly.TypeDeviceInactive, Severity: anomaly.SeverityMedium, Message: "m", Timestamp: testNow()},
	}}
	handler := NewAnomaliesHandler(newTestEngine(t, nil, repo), repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies/summary?days=7", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var summary anomaly.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.TotalAnomalies != 2 {
		t.Fatalf("total = %d, want 2", summary.TotalAnomalies)
	}
	if len(summary.DevicesAffected) != 2 {
		t.Fatalf("devices = %v, want 2", summary.DevicesAffected)
	}
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate() { c.calls++ }

func TestReadingsHandlerInserts(t *testing.T) {
	store := memory.NewStore()
	cache := &countingInvalidator{}
	handler := NewReadingsHandler(store, nil, cache)

	body := `[{"device_name":"oven","consumption":1.2,"timestamp":"2026-08-20T10:00:00Z"}]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.Len() != 1 {
		t.Fatalf("stored = %d, want 1", store.Len())
	}
	if cache.calls != 1 {
		t.Fatalf("invalidations = %d, want 1", cache.calls)
	}
}

func TestReadingsHandlerRejectsBadPayloads(t *testing.T) {
	handler := NewReadingsHandler(memory.NewStore(), nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty array", `[]`},
		{"bad timestamp", `[{"device_name":"oven","consumption":1.2,"timestamp":"yesterday"}]`},
		{"missing device", `[{"consumption":1.2,"timestamp":"2026-08-20T10:00:00Z"}]`},
		{"negative consumption", `[{"device_name":"oven","consumption":-1,"timestamp":"2026-08-20T10:00:00Z"}]`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestReadingsHandlerMethodNotAllowed(t *testing.T) {
	handler := NewReadingsHandler(memory.NewStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/readings", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
