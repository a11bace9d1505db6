// Package anomaly flags irregular consumption behavior in recent
// telemetry: statistical outliers, high usage, silent or failing
// devices and broken hourly patterns.
package anomaly

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Type classifies an anomaly.
type Type string

const (
	TypeStatisticalOutlier Type = "statistical_outlier"
	TypeHighUsage          Type = "high_usage"
	TypeDeviceInactive     Type = "device_inactive"
	TypeConsumptionDrop    Type = "consumption_drop"
	TypePatternDeviation   Type = "pattern_deviation"
)

// Valid reports whether t is a known anomaly type.
func (t Type) Valid() bool {
	switch t {
	case TypeStatisticalOutlier, TypeHighUsage, TypeDeviceInactive, TypeConsumptionDrop, TypePatternDeviation:
		return true
	}
	return false
}

// Severity grades how urgent an anomaly is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Rank orders severities for comparisons. Unknown severities rank
// below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// SystemDevice marks anomalies that concern the whole installation
// rather than a single device.
const SystemDevice = "system"

// Anomaly is one detected irregularity. Evidence carries the numbers
// the detector based its verdict on.
type Anomaly struct {
	DeviceName string             `json:"device_name"`
	Type       Type               `json:"type"`
	Severity   Severity           `json:"severity"`
	Message    string             `json:"message"`
	Timestamp  time.Time          `json:"timestamp"`
	Evidence   map[string]float64 `json:"evidence,omitempty"`
}

// Validate checks that the anomaly is well formed.
func (a Anomaly) Validate() error {
	if a.DeviceName == "" {
		return errors.New("anomaly: device name is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("anomaly: unknown type %q", a.Type)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("anomaly: unknown severity %q", a.Severity)
	}
	if a.Message == "" {
		return errors.New("anomaly: message is required")
	}
	if a.Timestamp.IsZero() {
		return errors.New("anomaly: timestamp is required")
	}
	return nil
}

// NewStatisticalOutlier builds an outlier anomaly for a consumption
// value whose z score exceeds the configured multiplier. A z score
// beyond one and a half times the multiplier is graded high.
func NewStatisticalOutlier(device string, value, expected, zScore, multiplier float64, ts time.Time) Anomaly {
	severity := SeverityMedium
	if zScore > multiplier*1.5 {
		severity = SeverityHigh
	}
	return Anomaly{
		DeviceName: device,
		Type:       TypeStatisticalOutlier,
		Severity:   severity,
		Message:    fmt.Sprintf("Unusual consumption detected: %.2f kWh (Z-score: %.2f)", value, zScore),
		Timestamp:  ts,
		Evidence: map[string]float64{
			"value":    value,
			"expected": expected,
			"z_score":  zScore,
		},
	}
}

// NewHighUsage builds a high usage anomaly. Double the threshold is
// graded high.
func NewHighUsage(device string, value, threshold float64, ts time.Time) Anomaly {
	severity := SeverityMedium
	if value > threshold*2 {
		severity = SeverityHigh
	}
	return Anomaly{
		DeviceName: device,
		Type:       TypeHighUsage,
		Severity:   severity,
		Message:    fmt.Sprintf("High energy usage detected: %.2f kWh (threshold: %g kWh)", value, threshold),
		Timestamp:  ts,
		Evidence: map[string]float64{
			"value":     value,
			"threshold": threshold,
		},
	}
}

// NewDeviceInactive builds an anomaly for a device that stopped
// reporting.
func NewDeviceInactive(device string, lastSeen, now time.Time) Anomaly {
	hoursInactive := now.Sub(lastSeen).Hours()
	return Anomaly{
		DeviceName: device,
		Type:       TypeDeviceInactive,
		Severity:   SeverityMedium,
		Message:    fmt.Sprintf("Device hasn't reported data for %.1f hours", hoursInactive),
		Timestamp:  now,
		Evidence: map[string]float64{
			"hours_inactive": hoursInactive,
		},
	}
}

// NewConsumptionDrop builds an anomaly for a device whose recent
// average collapsed against its history.
func NewConsumptionDrop(device string, recentAvg, historicalAvg float64, ts time.Time) Anomaly {
	return Anomaly{
		DeviceName: device,
		Type:       TypeConsumptionDrop,
		Severity:   SeverityMedium,
		Message:    fmt.Sprintf("Significant consumption drop detected. Recent: %.2f kWh, Historical: %.2f kWh", recentAvg, historicalAvg),
		Timestamp:  ts,
		Evidence: map[string]float64{
			"recent_avg":     recentAvg,
			"historical_avg": historicalAvg,
		},
	}
}

// NewPatternDeviation builds a system level anomaly for an hour of day
// whose recent average diverges from the historical one. Ratios beyond
// three or below zero point three are graded high.
func NewPatternDeviation(hour int, recent, historical, ratio float64, ts time.Time) Anomaly {
	severity := SeverityMedium
	if ratio > 3.0 || ratio < 0.3 {
		severity = SeverityHigh
	}
	return Anomaly{
		DeviceName: SystemDevice,
		Type:       TypePatternDeviation,
		Severity:   severity,
		Message:    fmt.Sprintf("Unusual consumption pattern at hour %d:00. Recent: %.2f kWh, Expected: %.2f kWh", hour, recent, historical),
		Timestamp:  ts,
		Evidence: map[string]float64{
			"ratio": ratio,
			"hour":  float64(hour),
		},
	}
}

// Summary aggregates a batch of anomalies for reporting.
type Summary struct {
	TotalAnomalies  int            `json:"total_anomalies"`
	BySeverity      map[string]int `json:"by_severity"`
	ByType          map[string]int `json:"by_type"`
	DevicesAffected []string       `json:"devices_affected"`
}

// Summarize counts anomalies by severity and type and lists the
// affected devices in sorted order.
func Summarize(anomalies []Anomaly) Summary {
	summary := Summary{
		TotalAnomalies:  len(anomalies),
		BySeverity:      map[string]int{},
		ByType:          map[string]int{},
		DevicesAffected: []string{},
	}
	seen := make(map[string]bool)
	for _, anomaly := range anomalies {
		summary.BySeverity[string(anomaly.Severity)]++
		summary.ByType[string(anomaly.Type)]++
		if !seen[anomaly.DeviceName] {
			seen[anomaly.DeviceName] = true
			summary.DevicesAffected = append(summary.DevicesAffected, anomaly.DeviceName)
		}
	}
	sort.Strings(summary.DevicesAffected)
	return summary
}
