package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"energy-insight/internal/observability/metrics"
	telemetry "energy-insight/internal/telemetry/domain"
)

const (
	defaultHoursBack = 24

	// The detection baseline spans several times the inspection
	// window so device statistics settle.
	baselineFactor = 7
)

// Repository stores detected anomalies and serves them back for
// reporting.
type Repository interface {
	InsertAnomalies(ctx context.Context, anomalies []Anomaly) error
	RecentAnomalies(ctx context.Context, hours int) ([]Anomaly, error)
}

// Notifier is told about freshly detected anomalies. Implementations
// decide which ones are worth forwarding.
type Notifier interface {
	NotifyAnomalies(ctx context.Context, anomalies []Anomaly)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Engine runs all detectors over recent telemetry in one pass.
type Engine struct {
	query      telemetry.ReadingQuery
	config     Config
	clock      Clock
	logger     *log.Logger
	repository Repository
	notifier   Notifier
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRepository makes the engine persist every detection run.
func WithRepository(repository Repository) Option {
	return func(e *Engine) {
		e.repository = repository
	}
}

// WithNotifier forwards detected anomalies after each run.
func WithNotifier(notifier Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// NewEngine builds a detection engine over the given reading source.
func NewEngine(query telemetry.ReadingQuery, config Config, opts ...Option) (*Engine, error) {
	if query == nil {
		return nil, errors.New("anomaly: reading query is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	engine := &Engine{
		query:  query,
		config: config,
		clock:  systemClock{},
		logger: log.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

// Detect inspects the last hoursBack hours of telemetry against a
// longer baseline and returns every anomaly found, in detector order.
// Detected anomalies are persisted and forwarded when a repository or
// notifier is configured; failures there are logged but do not fail
// the run.
func (e *Engine) Detect(ctx context.Context, hoursBack int) ([]Anomaly, error) {
	if hoursBack <= 0 {
		hoursBack = defaultHoursBack
	}
	started := e.clock.Now()

	readings, err := e.query.QueryRecent(ctx, hoursBack*baselineFactor)
	if err != nil {
		metrics.ObserveAnalysis("anomaly", metrics.ResultError, e.clock.Now().Sub(started))
		return nil, fmt.Errorf("anomaly: query recent readings: %w", err)
	}
	if len(readings) == 0 {
		metrics.ObserveAnalysis("anomaly", metrics.ResultSuccess, e.clock.Now().Sub(started))
		return []Anomaly{}, nil
	}

	now := e.clock.Now()
	cutoff := now.Add(-time.Duration(hoursBack) * time.Hour)

	anomalies := []Anomaly{}
	anomalies = append(anomalies, detectStatisticalOutliers(readings, cutoff, e.config)...)
	anomalies = append(anomalies, detectHighUsage(readings, cutoff, e.config)...)
	anomalies = append(anomalies, detectInactiveDevices(readings, now, e.config)...)
	anomalies = append(anomalies, detectConsumptionDrops(readings, cutoff, e.config)...)
	anomalies = append(anomalies, detectPatternDeviations(readings, cutoff, now)...)

	for _, anomaly := range anomalies {
		metrics.IncAnomaly(string(anomaly.Type), string(anomaly.Severity))
	}

	if e.repository != nil && len(anomalies) > 0 {
		if err := e.repository.InsertAnomalies(ctx, anomalies); err != nil {
			e.logger.Printf("anomaly: persist %d anomalies: %v", len(anomalies), err)
		}
	}
	if e.notifier != nil && len(anomalies) > 0 {
		e.notifier.NotifyAnomalies(ctx, anomalies)
	}

	metrics.ObserveAnalysis("anomaly", metrics.ResultSuccess, e.clock.Now().Sub(started))
	return anomalies, nil
}

// Summary reports counts over the anomalies stored during the last
// daysBack days. It requires a repository.
func (e *Engine) Summary(ctx context.Context, daysBack int) (Summary, error) {
	if e.repository == nil {
		return Summary{}, errors.New("anomaly: no repository configured")
	}
	if daysBack <= 0 {
		daysBack = 7
	}
	stored, err := e.repository.RecentAnomalies(ctx, daysBack*24)
	if err != nil {
		return Summary{}, fmt.Errorf("anomaly: query recent anomalies: %w", err)
	}
	return Summarize(stored), nil
}
