// Package thingsboard accepts consumption telemetry pushed by a
// ThingsBoard rule chain webhook.
package thingsboard

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"energy-insight/internal/observability/metrics"
	telemetry "energy-insight/internal/telemetry/domain"
)

// Invalidator drops cached analytics after new data lands.
type Invalidator interface {
	Invalidate()
}

// IngestHandler handles telemetry ingestion from ThingsBoard webhook.
type IngestHandler struct {
	store  telemetry.ReadingStore
	caches []Invalidator
	logger *log.Logger
}

// NewIngestHandler constructs an ingest handler. Caches are invalidated
// after every successful insert.
func NewIngestHandler(store telemetry.ReadingStore, logger *log.Logger, caches ...Invalidator) (*IngestHandler, error) {
	if store == nil {
		return nil, errors.New("thingsboard ingest: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{store: store, caches: caches, logger: logger}, nil
}

// ServeHTTP ingests telemetry data.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	started := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		metrics.IncIngestError("read_body")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		metrics.IncIngestError("decode")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	readings, err := req.toReadings()
	if err != nil {
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		metrics.IncIngestError("payload")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.store.InsertReadings(r.Context(), readings); err != nil {
		h.logger.Printf("telemetry ingest: insert error: %v", err)
		metrics.IncIngestError("insert")
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	for _, cache := range h.caches {
		if cache != nil {
			cache.Invalidate()
		}
	}
	metrics.AddIngestReadings(len(readings))
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))

	resp := map[string]any{"inserted": len(readings)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type ingestRequest struct {
	DeviceName string             `json:"deviceName"`
	TS         int64              `json:"ts"`
	Values     map[string]float64 `json:"values"`
	Points     []ingestPoint      `json:"points"`
}

type ingestPoint struct {
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
}

const consumptionKey = "consumption"

func (r ingestRequest) toReadings() ([]telemetry.Reading, error) {
	if r.DeviceName == "" {
		return nil, errors.New("missing deviceName")
	}

	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TS: r.TS, Values: r.Values}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	readings := make([]telemetry.Reading, 0, len(points))
	for _, point := range points {
		ts, err := parseTimestamp(point.TS)
		if err != nil {
			return nil, err
		}
		consumption, ok := point.Values[consumptionKey]
		if !ok {
			return nil, errors.New("missing consumption value")
		}
		reading := telemetry.Reading{
			DeviceName:  r.DeviceName,
			Consumption: consumption,
			Timestamp:   ts,
			Source:      telemetry.SourceThingsBoard,
		}
		if err := reading.Validate(); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
