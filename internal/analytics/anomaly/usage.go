package anomaly

import (
	"time"

	telemetry "energy-insight/internal/telemetry/domain"
)

// detectHighUsage flags recent readings strictly above the device's
// high usage threshold. A reading exactly at the threshold passes.
func detectHighUsage(readings []telemetry.Reading, cutoff time.Time, cfg Config) []Anomaly {
	var anomalies []Anomaly
	for _, reading := range filterSince(readings, cutoff) {
		thresholds := cfg.ThresholdsForDevice(reading.DeviceName)
		if reading.Consumption > thresholds.HighUsageKWh {
			anomalies = append(anomalies, NewHighUsage(
				reading.DeviceName, reading.Consumption, thresholds.HighUsageKWh, reading.Timestamp,
			))
		}
	}
	return anomalies
}
