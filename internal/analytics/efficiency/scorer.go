// Package efficiency converts consumption aggregates into a weighted
// 0-100 efficiency score with a letter grade and recommendations.
package efficiency

import (
	"context"
	"errors"
	"math"

	"energy-insight/internal/analytics/aggregate"
)

// ReferenceDailyKWh is the typical household daily consumption the usage
// factor is scored against.
const ReferenceDailyKWh = 25.0

const (
	weightUsageLevel       = 0.4
	weightConsistency      = 0.2
	weightPeakManagement   = 0.3
	weightDataCompleteness = 0.1

	neutralFactorScore = 50.0
)

// Factor names in the score breakdown.
const (
	FactorUsageLevel       = "usage_level"
	FactorConsistency      = "consistency"
	FactorPeakManagement   = "peak_management"
	FactorDataCompleteness = "data_completeness"
)

// Score is a point-in-time efficiency assessment. It is recomputed per
// request and never persisted.
type Score struct {
	Value           float64              `json:"score"`
	Grade           string               `json:"grade"`
	Factors         map[string]float64   `json:"factors"`
	Recommendations []string             `json:"recommendations"`
	Stats           aggregate.Statistics `json:"stats_summary"`
}

// Scorer computes efficiency scores from aggregates.
type Scorer struct {
	aggregator *aggregate.Aggregator
}

// NewScorer constructs a scorer.
func NewScorer(aggregator *aggregate.Aggregator) (*Scorer, error) {
	if aggregator == nil {
		return nil, errors.New("efficiency: nil aggregator")
	}
	return &Scorer{aggregator: aggregator}, nil
}

// Score computes the efficiency score over the trailing daysBack days.
// With no consumption data it returns a zero score and grade "N/A"
// rather than an error.
func (s *Scorer) Score(ctx context.Context, daysBack int) Score {
	if s == nil || s.aggregator == nil {
		return emptyScore("Efficiency scoring is unavailable")
	}
	if daysBack <= 0 {
		daysBack = 30
	}

	statistics := s.aggregator.Statistics(ctx, daysBack)
	if statistics.TotalConsumption == 0 {
		return emptyScore("Start monitoring energy consumption to get your efficiency score")
	}

	factors := map[string]float64{
		FactorUsageLevel:       usageLevelFactor(statistics.AverageDaily),
		FactorConsistency:      consistencyFactor(statistics.AverageDaily, statistics.StdDeviation),
		FactorPeakManagement:   s.peakManagementFactor(ctx, daysBack),
		FactorDataCompleteness: completenessFactor(statistics.DaysWithData, daysBack),
	}

	weighted := factors[FactorUsageLevel]*weightUsageLevel +
		factors[FactorConsistency]*weightConsistency +
		factors[FactorPeakManagement]*weightPeakManagement +
		factors[FactorDataCompleteness]*weightDataCompleteness

	return Score{
		Value:           math.Round(weighted*10) / 10,
		Grade:           gradeFor(weighted),
		Factors:         factors,
		Recommendations: recommendationsFor(factors),
		Stats:           statistics,
	}
}

// usageLevelFactor scores average daily consumption against the
// household reference. At the reference it is 50, decaying linearly
// above and rising linearly toward 100 below, floored at 0.
func usageLevelFactor(averageDaily float64) float64 {
	if averageDaily <= ReferenceDailyKWh {
		return 100 - averageDaily/ReferenceDailyKWh*50
	}
	return math.Max(0, 50-(averageDaily-ReferenceDailyKWh)/ReferenceDailyKWh*50)
}

// consistencyFactor scores the coefficient of variation of daily totals.
// Undefined variance (single day, zero mean) yields a neutral 50.
func consistencyFactor(averageDaily, stdDeviation float64) float64 {
	if stdDeviation <= 0 || averageDaily <= 0 {
		return neutralFactorScore
	}
	cv := stdDeviation / averageDaily
	return math.Max(0, 100-cv*50)
}

// peakManagementFactor scores the ratio of off-peak (23:00-06:00) to peak
// (17:00-21:00) consumption. Missing data in either band is neutral.
func (s *Scorer) peakManagementFactor(ctx context.Context, daysBack int) float64 {
	pattern := s.aggregator.HourlyPattern(ctx, daysBack)
	if len(pattern) == 0 {
		return neutralFactorScore
	}

	var peakValues, offPeakValues []float64
	for _, bucket := range pattern {
		if bucket.Hour >= 17 && bucket.Hour <= 21 {
			peakValues = append(peakValues, bucket.Mean)
		}
		if bucket.Hour >= 23 || bucket.Hour <= 6 {
			offPeakValues = append(offPeakValues, bucket.Mean)
		}
	}
	if len(peakValues) == 0 || len(offPeakValues) == 0 {
		return neutralFactorScore
	}

	peakAvg := mean(peakValues)
	if peakAvg <= 0 {
		return neutralFactorScore
	}
	return math.Min(100, mean(offPeakValues)/peakAvg*100)
}

func completenessFactor(daysWithData, daysBack int) float64 {
	if daysBack <= 0 {
		return 0
	}
	return math.Min(100, float64(daysWithData)/float64(daysBack)*100)
}

func gradeFor(score float64) string {
	switch {
	case score >= 90:
		return "A+"
	case score >= 80:
		return "A"
	case score >= 70:
		return "B"
	case score >= 60:
		return "C"
	case score >= 50:
		return "D"
	default:
		return "F"
	}
}

func recommendationsFor(factors map[string]float64) []string {
	var recommendations []string
	if factors[FactorUsageLevel] < 50 {
		recommendations = append(recommendations, "Consider reducing overall energy consumption")
	}
	if factors[FactorConsistency] < 50 {
		recommendations = append(recommendations, "Try to maintain more consistent daily usage patterns")
	}
	if factors[FactorPeakManagement] < 50 {
		recommendations = append(recommendations, "Shift energy usage away from peak hours (5-9 PM)")
	}
	if factors[FactorDataCompleteness] < 80 {
		recommendations = append(recommendations, "Improve data collection for better analysis")
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Great job! Keep maintaining your energy efficiency practices")
	}
	return recommendations
}

func emptyScore(message string) Score {
	return Score{
		Value:           0,
		Grade:           "N/A",
		Factors:         map[string]float64{},
		Recommendations: []string{message},
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
