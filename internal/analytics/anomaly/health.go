package anomaly

import (
	"time"

	"energy-insight/internal/analytics/stats"
	telemetry "energy-insight/internal/telemetry/domain"
)

const minDropPoints = 5

// detectInactiveDevices flags devices whose latest reading is older
// than the inactivity window. An exactly two hour old reading does not
// count as inactive under the defaults.
func detectInactiveDevices(readings []telemetry.Reading, now time.Time, cfg Config) []Anomaly {
	var anomalies []Anomaly
	for _, device := range deviceNames(readings) {
		lastSeen := latestTimestamp(filterDevice(readings, device))
		thresholds := cfg.ThresholdsForDevice(device)
		inactiveSince := now.Add(-time.Duration(thresholds.InactiveHours * float64(time.Hour)))
		if lastSeen.Before(inactiveSince) {
			anomalies = append(anomalies, NewDeviceInactive(device, lastSeen, now))
		}
	}
	return anomalies
}

// detectConsumptionDrops flags devices whose recent average fell below
// a fraction of their pre-window average. Devices whose historical
// average is already near zero are skipped.
func detectConsumptionDrops(readings []telemetry.Reading, cutoff time.Time, cfg Config) []Anomaly {
	var anomalies []Anomaly
	for _, device := range deviceNames(readings) {
		deviceReadings := filterDevice(readings, device)
		recent := filterSince(deviceReadings, cutoff)
		if len(deviceReadings) < minDropPoints || len(recent) == 0 {
			continue
		}
		historical := filterBefore(deviceReadings, cutoff)
		if len(historical) == 0 {
			continue
		}

		historicalAvg := stats.Mean(consumptionValues(historical))
		recentAvg := stats.Mean(consumptionValues(recent))
		thresholds := cfg.ThresholdsForDevice(device)
		if recentAvg < historicalAvg*thresholds.DropRatio && historicalAvg > thresholds.MinHistoricalAvg {
			anomalies = append(anomalies, NewConsumptionDrop(device, recentAvg, historicalAvg, latestTimestamp(recent)))
		}
	}
	return anomalies
}

func filterBefore(readings []telemetry.Reading, cutoff time.Time) []telemetry.Reading {
	var result []telemetry.Reading
	for _, reading := range readings {
		if reading.Timestamp.Before(cutoff) {
			result = append(result, reading)
		}
	}
	return result
}

func latestTimestamp(readings []telemetry.Reading) time.Time {
	var latest time.Time
	for _, reading := range readings {
		if reading.Timestamp.After(latest) {
			latest = reading.Timestamp
		}
	}
	return latest
}
