// Package apihttp exposes the analytics services over HTTP.
package apihttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"energy-insight/internal/analytics/aggregate"
	"energy-insight/internal/analytics/anomaly"
	"energy-insight/internal/analytics/cost"
	"energy-insight/internal/analytics/efficiency"
	"energy-insight/internal/analytics/trend"
	"energy-insight/internal/audit"
	"energy-insight/internal/auth"
	telemetry "energy-insight/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// StatisticsHandler serves consumption statistics.
type StatisticsHandler struct {
	aggregator *aggregate.Aggregator
}

// NewStatisticsHandler constructs a StatisticsHandler.
func NewStatisticsHandler(aggregator *aggregate.Aggregator) *StatisticsHandler {
	return &StatisticsHandler{aggregator: aggregator}
}

// ServeHTTP handles GET /api/v1/statistics.
func (h *StatisticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.aggregator == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	days, err := parseIntQuery(r, "days", 30)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.aggregator.Statistics(r.Context(), days))
}

// CurrentHandler serves the most recent observed consumption.
type CurrentHandler struct {
	aggregator *aggregate.Aggregator
}

// NewCurrentHandler constructs a CurrentHandler.
func NewCurrentHandler(aggregator *aggregate.Aggregator) *CurrentHandler {
	return &CurrentHandler{aggregator: aggregator}
}

// ServeHTTP handles GET /api/v1/current.
func (h *CurrentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.aggregator == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]float64{
		"current_consumption": h.aggregator.CurrentConsumption(r.Context()),
	})
}

// BreakdownHandler serves per device consumption shares.
type BreakdownHandler struct {
	aggregator *aggregate.Aggregator
}

// NewBreakdownHandler constructs a BreakdownHandler.
func NewBreakdownHandler(aggregator *aggregate.Aggregator) *BreakdownHandler {
	return &BreakdownHandler{aggregator: aggregator}
}

// ServeHTTP handles GET /api/v1/breakdown.
func (h *BreakdownHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.aggregator == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	days, err := parseIntQuery(r, "days", 30)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.aggregator.DeviceBreakdown(r.Context(), days))
}

// PatternsHandler serves hourly and weekly consumption patterns.
type PatternsHandler struct {
	aggregator *aggregate.Aggregator
}

// NewPatternsHandler constructs a PatternsHandler.
func NewPatternsHandler(aggregator *aggregate.Aggregator) *PatternsHandler {
	return &PatternsHandler{aggregator: aggregator}
}

// ServeHTTP handles GET /api/v1/patterns/hourly and /api/v1/patterns/weekly.
func (h *PatternsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.aggregator == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch r.URL.Path {
	case "/api/v1/patterns/hourly":
		days, err := parseIntQuery(r, "days", 30)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, h.aggregator.HourlyPattern(r.Context(), days))
	case "/api/v1/patterns/weekly":
		weeks, err := parseIntQuery(r, "weeks", 4)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, h.aggregator.WeeklyPattern(r.Context(), weeks))
	default:
		http.NotFound(w, r)
	}
}

// EfficiencyHandler serves the household efficiency score.
type EfficiencyHandler struct {
	scorer *efficiency.Scorer
}

// NewEfficiencyHandler constructs an EfficiencyHandler.
func NewEfficiencyHandler(scorer *efficiency.Scorer) *EfficiencyHandler {
	return &EfficiencyHandler{scorer: scorer}
}

// ServeHTTP handles GET /api/v1/efficiency.
func (h *EfficiencyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.scorer == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	days, err := parseIntQuery(r, "days", 30)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.scorer.Score(r.Context(), days))
}

// TrendsHandler serves usage trend reports.
type TrendsHandler struct {
	detector *trend.Detector
}

// NewTrendsHandler constructs a TrendsHandler.
func NewTrendsHandler(detector *trend.Detector) *TrendsHandler {
	return &TrendsHandler{detector: detector}
}

// ServeHTTP handles GET /api/v1/trends.
func (h *TrendsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.detector == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	days, err := parseIntQuery(r, "days", 60)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.detector.Detect(r.Context(), days))
}

// CostHandler serves cost analyses.
type CostHandler struct {
	analyzer *cost.Analyzer
}

// NewCostHandler constructs a CostHandler.
func NewCostHandler(analyzer *cost.Analyzer) *CostHandler {
	return &CostHandler{analyzer: analyzer}
}

// ServeHTTP handles GET /api/v1/cost.
func (h *CostHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.analyzer == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	days, err := parseIntQuery(r, "days", 30)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, h.analyzer.Analyze(r.Context(), days))
}

// AnomaliesHandler serves anomaly detection, listing and summaries.
type AnomaliesHandler struct {
	engine     *anomaly.Engine
	repository anomaly.Repository
}

// NewAnomaliesHandler constructs an AnomaliesHandler. The repository may
// be nil, in which case listing stored anomalies reports 503.
func NewAnomaliesHandler(engine *anomaly.Engine, repository anomaly.Repository) *AnomaliesHandler {
	return &AnomaliesHandler{engine: engine, repository: repository}
}

// ServeHTTP handles the /api/v1/anomalies endpoints.
func (h *AnomaliesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.engine == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/anomalies/detect":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		hours, err := parseIntQuery(r, "hours", 24)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		anomalies, err := h.engine.Detect(r.Context(), hours)
		if err != nil {
			http.Error(w, "detection error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, anomalies)
	case r.URL.Path == "/api/v1/anomalies/summary":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		days, err := parseIntQuery(r, "days", 7)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		summary, err := h.engine.Summary(r.Context(), days)
		if err != nil {
			http.Error(w, "summary error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	case r.URL.Path == "/api/v1/anomalies":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if h.repository == nil {
			http.Error(w, "anomaly storage not configured", http.StatusServiceUnavailable)
			return
		}
		hours, err := parseIntQuery(r, "hours", 24)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		anomalies, err := h.repository.RecentAnomalies(r.Context(), hours)
		if err != nil {
			http.Error(w, "query anomalies error", http.StatusInternalServerError)
			return
		}
		if anomalies == nil {
			anomalies = []anomaly.Anomaly{}
		}
		writeJSON(w, anomalies)
	default:
		http.NotFound(w, r)
	}
}

// Invalidator marks a cached view stale after new readings arrive.
type Invalidator interface {
	Invalidate()
}

// ReadingsHandler accepts manually entered consumption readings.
type ReadingsHandler struct {
	store       telemetry.ReadingStore
	auditLogger audit.Logger
	caches      []Invalidator
}

// NewReadingsHandler constructs a ReadingsHandler. The audit logger may
// be nil.
func NewReadingsHandler(store telemetry.ReadingStore, auditLogger audit.Logger, caches ...Invalidator) *ReadingsHandler {
	return &ReadingsHandler{store: store, auditLogger: auditLogger, caches: caches}
}

type manualReading struct {
	DeviceName  string  `json:"device_name"`
	Consumption float64 `json:"consumption"`
	Timestamp   string  `json:"timestamp"`
}

// ServeHTTP handles POST /api/v1/readings.
func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.store == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var payload []manualReading
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return
	}
	readings, err := toReadings(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.InsertReadings(r.Context(), readings); err != nil {
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}
	for _, cache := range h.caches {
		if cache != nil {
			cache.Invalidate()
		}
	}
	h.logAudit(r, len(readings))
	writeJSON(w, map[string]int{"inserted": len(readings)})
}

func (h *ReadingsHandler) logAudit(r *http.Request, inserted int) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"inserted": inserted})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "readings.insert",
		ResourceType: "reading",
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func toReadings(payload []manualReading) ([]telemetry.Reading, error) {
	readings := make([]telemetry.Reading, 0, len(payload))
	for i, item := range payload {
		ts, err := time.Parse(timeLayout, item.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("reading %d: invalid timestamp", i)
		}
		reading := telemetry.Reading{
			DeviceName:  item.DeviceName,
			Consumption: item.Consumption,
			Timestamp:   ts.UTC(),
			Source:      telemetry.SourceManual,
		}
		if err := reading.Validate(); err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

func parseIntQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
