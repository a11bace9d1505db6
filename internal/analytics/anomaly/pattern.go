package anomaly

import (
	"sort"
	"time"

	"energy-insight/internal/analytics/stats"
	telemetry "energy-insight/internal/telemetry/domain"
)

const (
	minPatternPoints = 24

	patternHighRatio = 2.0
	patternLowRatio  = 0.5
)

// detectPatternDeviations compares the recent hourly consumption shape
// against the pre-window shape and flags hours whose ratio escapes the
// expected band. Findings are attributed to the system pseudo device.
func detectPatternDeviations(readings []telemetry.Reading, cutoff, now time.Time) []Anomaly {
	if len(readings) < minPatternPoints {
		return nil
	}

	recent := filterSince(readings, cutoff)
	historical := filterBefore(readings, cutoff)
	if len(recent) == 0 || len(historical) == 0 {
		return nil
	}

	recentHourly := hourlyMeans(recent)
	historicalHourly := hourlyMeans(historical)

	var anomalies []Anomaly
	for _, hour := range sortedHours(recentHourly) {
		historicalVal, ok := historicalHourly[hour]
		if !ok || historicalVal <= 0 {
			continue
		}
		recentVal := recentHourly[hour]
		ratio := recentVal / historicalVal
		if ratio > patternHighRatio || ratio < patternLowRatio {
			ts := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
			anomalies = append(anomalies, NewPatternDeviation(hour, recentVal, historicalVal, ratio, ts))
		}
	}
	return anomalies
}

func hourlyMeans(readings []telemetry.Reading) map[int]float64 {
	byHour := make(map[int][]float64)
	for _, reading := range readings {
		hour := reading.Timestamp.Hour()
		byHour[hour] = append(byHour[hour], reading.Consumption)
	}
	means := make(map[int]float64, len(byHour))
	for hour, values := range byHour {
		means[hour] = stats.Mean(values)
	}
	return means
}

func sortedHours(means map[int]float64) []int {
	hours := make([]int, 0, len(means))
	for hour := range means {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	return hours
}
