package anomaly

import (
	"math"
	"sort"
	"time"

	"energy-insight/internal/analytics/stats"
	telemetry "energy-insight/internal/telemetry/domain"
)

const minStatisticalPoints = 10

// detectStatisticalOutliers flags recent readings whose z score against
// the device's full baseline exceeds the configured multiplier. The
// baseline deliberately includes the recent window so a single spike
// does not shift the expectation much.
func detectStatisticalOutliers(readings []telemetry.Reading, cutoff time.Time, cfg Config) []Anomaly {
	if len(readings) < minStatisticalPoints {
		return nil
	}

	var anomalies []Anomaly
	for _, device := range deviceNames(readings) {
		deviceReadings := filterDevice(readings, device)
		if len(deviceReadings) < minStatisticalPoints {
			continue
		}
		recent := filterSince(deviceReadings, cutoff)
		if len(recent) == 0 {
			continue
		}

		values := consumptionValues(deviceReadings)
		mean := stats.Mean(values)
		std := stats.StdDev(values)
		if std == 0 {
			continue
		}

		thresholds := cfg.ThresholdsForDevice(device)
		for _, reading := range recent {
			zScore := math.Abs((reading.Consumption - mean) / std)
			if zScore > thresholds.ZScoreMultiplier {
				anomalies = append(anomalies, NewStatisticalOutlier(
					device, reading.Consumption, mean, zScore, thresholds.ZScoreMultiplier, reading.Timestamp,
				))
			}
		}
	}
	return anomalies
}

// deviceNames returns the distinct device names in sorted order so
// detector output is deterministic.
func deviceNames(readings []telemetry.Reading) []string {
	seen := make(map[string]bool)
	var names []string
	for _, reading := range readings {
		if !seen[reading.DeviceName] {
			seen[reading.DeviceName] = true
			names = append(names, reading.DeviceName)
		}
	}
	sort.Strings(names)
	return names
}

func filterDevice(readings []telemetry.Reading, device string) []telemetry.Reading {
	var result []telemetry.Reading
	for _, reading := range readings {
		if reading.DeviceName == device {
			result = append(result, reading)
		}
	}
	return result
}

func filterSince(readings []telemetry.Reading, cutoff time.Time) []telemetry.Reading {
	var result []telemetry.Reading
	for _, reading := range readings {
		if !reading.Timestamp.Before(cutoff) {
			result = append(result, reading)
		}
	}
	return result
}

func consumptionValues(readings []telemetry.Reading) []float64 {
	values := make([]float64, 0, len(readings))
	for _, reading := range readings {
		values = append(values, reading.Consumption)
	}
	return values
}
