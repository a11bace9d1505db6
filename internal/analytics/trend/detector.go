// Package trend derives longer horizon consumption trends from daily
// totals: overall direction, volatility, weekday versus weekend shape
// and week over week shifts.
package trend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"energy-insight/internal/analytics/aggregate"
	"energy-insight/internal/analytics/stats"
)

// Trend types reported by the detector.
const (
	TypeIncreasing     = "increasing_consumption"
	TypeDecreasing     = "decreasing_consumption"
	TypeStable         = "stable_consumption"
	TypeHighVolatility = "high_volatility"
	TypeLowVolatility  = "low_volatility"
	TypeWeekendSpike   = "weekend_spike"
	TypeWeekendDrop    = "weekend_drop"
	TypeRecentChange   = "recent_change"
)

// Severity levels. Positive marks a trend that works in the
// household's favor.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityPositive = "positive"
)

const (
	defaultDaysBack = 60
	minDailyTotals  = 7
	minWeeklyTotals = 14

	slopeThreshold      = 0.1
	highVolatilityCV    = 0.3
	lowVolatilityCV     = 0.1
	weekendSpikeRatio   = 1.2
	weekendDropRatio    = 0.8
	recentChangePercent = 15.0
	severeChangePercent = 30.0
)

// Trend is a single detected pattern in daily consumption.
type Trend struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Report is the outcome of one trend analysis run.
type Report struct {
	Trends         []Trend `json:"trends"`
	Summary        string  `json:"summary"`
	AnalysisPeriod string  `json:"analysis_period,omitempty"`
	DataPoints     int     `json:"data_points,omitempty"`
}

// Detector computes trend reports from aggregated daily totals.
type Detector struct {
	aggregator *aggregate.Aggregator
	clock      aggregate.Clock
}

// Option customizes a Detector.
type Option func(*Detector)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock aggregate.Clock) Option {
	return func(d *Detector) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// NewDetector builds a trend detector over the given aggregator.
func NewDetector(aggregator *aggregate.Aggregator, opts ...Option) (*Detector, error) {
	if aggregator == nil {
		return nil, errors.New("trend: aggregator is required")
	}
	detector := &Detector{
		aggregator: aggregator,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(detector)
		}
	}
	return detector, nil
}

// Detect analyzes daily consumption over the trailing window and
// returns every trend it finds. A daysBack of zero or less falls back
// to sixty days.
func (d *Detector) Detect(ctx context.Context, daysBack int) Report {
	if daysBack <= 0 {
		daysBack = defaultDaysBack
	}

	end := d.clock.Now()
	start := end.AddDate(0, 0, -daysBack)
	period := fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))

	dailyTotals := d.aggregator.DailyTotals(ctx, daysBack)
	if len(dailyTotals) == 0 {
		return Report{Trends: []Trend{}, Summary: "No data available for trend analysis"}
	}
	if len(dailyTotals) < minDailyTotals {
		return Report{Trends: []Trend{}, Summary: "Insufficient data for trend analysis"}
	}

	trends := []Trend{directionTrend(dailyTotals)}
	if t, ok := volatilityTrend(dailyTotals); ok {
		trends = append(trends, t)
	}
	if len(dailyTotals) >= minWeeklyTotals {
		if t, ok := d.weekendTrend(ctx, daysBack); ok {
			trends = append(trends, t)
		}
		if t, ok := recentChangeTrend(dailyTotals); ok {
			trends = append(trends, t)
		}
	}

	return Report{
		Trends:         trends,
		Summary:        summarize(trends),
		AnalysisPeriod: period,
		DataPoints:     len(dailyTotals),
	}
}

func directionTrend(dailyTotals []float64) Trend {
	slope := stats.Slope(dailyTotals)
	switch {
	case slope > slopeThreshold:
		severity := SeverityMedium
		if slope >= 1 {
			severity = SeverityHigh
		}
		return Trend{
			Type:        TypeIncreasing,
			Description: fmt.Sprintf("Energy consumption is increasing by approximately %.2f kWh per day", slope),
			Severity:    severity,
		}
	case slope < -slopeThreshold:
		return Trend{
			Type:        TypeDecreasing,
			Description: fmt.Sprintf("Energy consumption is decreasing by approximately %.2f kWh per day", -slope),
			Severity:    SeverityPositive,
		}
	default:
		return Trend{
			Type:        TypeStable,
			Description: "Energy consumption is relatively stable",
			Severity:    SeverityLow,
		}
	}
}

func volatilityTrend(dailyTotals []float64) (Trend, bool) {
	cv := stats.CoefficientOfVariation(dailyTotals)
	switch {
	case cv > highVolatilityCV:
		return Trend{
			Type:        TypeHighVolatility,
			Description: fmt.Sprintf("Energy consumption varies significantly (CV: %.2f)", cv),
			Severity:    SeverityMedium,
		}, true
	case cv < lowVolatilityCV:
		return Trend{
			Type:        TypeLowVolatility,
			Description: "Energy consumption is very consistent",
			Severity:    SeverityPositive,
		}, true
	}
	return Trend{}, false
}

func (d *Detector) weekendTrend(ctx context.Context, daysBack int) (Trend, bool) {
	buckets := d.aggregator.WeeklyPattern(ctx, daysBack/7)
	if len(buckets) == 0 {
		return Trend{}, false
	}

	var weekendSum, weekdaySum float64
	var weekendCount, weekdayCount int
	for _, bucket := range buckets {
		if bucket.Weekday == time.Saturday || bucket.Weekday == time.Sunday {
			weekendSum += bucket.Mean
			weekendCount++
		} else {
			weekdaySum += bucket.Mean
			weekdayCount++
		}
	}
	if weekendCount == 0 || weekdayCount == 0 {
		return Trend{}, false
	}
	weekendAvg := weekendSum / float64(weekendCount)
	weekdayAvg := weekdaySum / float64(weekdayCount)
	if weekdayAvg <= 0 {
		return Trend{}, false
	}

	switch {
	case weekendAvg > weekdayAvg*weekendSpikeRatio:
		return Trend{
			Type:        TypeWeekendSpike,
			Description: fmt.Sprintf("Weekend consumption is %.1f%% higher than weekdays", (weekendAvg/weekdayAvg-1)*100),
			Severity:    SeverityMedium,
		}, true
	case weekendAvg < weekdayAvg*weekendDropRatio:
		return Trend{
			Type:        TypeWeekendDrop,
			Description: fmt.Sprintf("Weekend consumption is %.1f%% lower than weekdays", (1-weekendAvg/weekdayAvg)*100),
			Severity:    SeverityLow,
		}, true
	}
	return Trend{}, false
}

func recentChangeTrend(dailyTotals []float64) (Trend, bool) {
	recent := stats.Mean(dailyTotals[len(dailyTotals)-7:])
	previous := stats.Mean(dailyTotals[:len(dailyTotals)-7])
	if previous <= 0 {
		return Trend{}, false
	}

	changePercent := (recent - previous) / previous * 100
	if math.Abs(changePercent) <= recentChangePercent {
		return Trend{}, false
	}

	direction := "increased"
	if changePercent < 0 {
		direction = "decreased"
	}
	severity := SeverityMedium
	if math.Abs(changePercent) > severeChangePercent {
		severity = SeverityHigh
	}
	return Trend{
		Type:        TypeRecentChange,
		Description: fmt.Sprintf("Energy consumption has %s by %.1f%% in the last week", direction, math.Abs(changePercent)),
		Severity:    severity,
	}, true
}

func summarize(trends []Trend) string {
	var positive, concerning int
	for _, trend := range trends {
		switch trend.Severity {
		case SeverityPositive:
			positive++
		case SeverityMedium, SeverityHigh:
			concerning++
		}
	}
	switch {
	case positive > concerning:
		return "Overall energy usage patterns look good"
	case concerning > positive:
		return "Some concerning trends detected in energy usage"
	default:
		return "Mixed trends in energy usage patterns"
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
