package anomaly

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default detection thresholds.
const (
	DefaultZScoreMultiplier = 2.0
	DefaultHighUsageKWh     = 5.0
	DefaultInactiveHours    = 2.0
	DefaultDropRatio        = 0.3
	DefaultMinHistoricalAvg = 0.1
)

// Thresholds tunes the detectors for one device or as a default.
type Thresholds struct {
	ZScoreMultiplier float64 `yaml:"z_score_multiplier"`
	HighUsageKWh     float64 `yaml:"high_usage_kwh"`
	InactiveHours    float64 `yaml:"inactive_hours"`
	DropRatio        float64 `yaml:"drop_ratio"`
	MinHistoricalAvg float64 `yaml:"min_historical_avg"`
}

// Config defines anomaly detection configuration. Devices maps device
// names to overrides merged over the defaults.
type Config struct {
	Defaults Thresholds            `yaml:"defaults"`
	Devices  map[string]Thresholds `yaml:"devices"`
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		Defaults: Thresholds{
			ZScoreMultiplier: DefaultZScoreMultiplier,
			HighUsageKWh:     DefaultHighUsageKWh,
			InactiveHours:    DefaultInactiveHours,
			DropRatio:        DefaultDropRatio,
			MinHistoricalAvg: DefaultMinHistoricalAvg,
		},
	}
}

// LoadConfig loads detection config from yaml or env. The yaml file
// named by ANOMALY_CONFIG wins over the ANOMALY_THRESHOLD and
// HIGH_USAGE_THRESHOLD variables, which in turn win over the
// built-in defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.Defaults.ZScoreMultiplier = getenvFloatDefault("ANOMALY_THRESHOLD", cfg.Defaults.ZScoreMultiplier)
	cfg.Defaults.HighUsageKWh = getenvFloatDefault("HIGH_USAGE_THRESHOLD", cfg.Defaults.HighUsageKWh)

	if path := os.Getenv("ANOMALY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects nonsensical threshold values.
func (c Config) Validate() error {
	if err := c.Defaults.validate(); err != nil {
		return fmt.Errorf("anomaly: defaults: %w", err)
	}
	for device, thresholds := range c.Devices {
		merged := mergeThresholds(c.Defaults, thresholds)
		if err := merged.validate(); err != nil {
			return fmt.Errorf("anomaly: device %q: %w", device, err)
		}
	}
	return nil
}

func (t Thresholds) validate() error {
	if t.ZScoreMultiplier <= 0 {
		return fmt.Errorf("z_score_multiplier must be positive, got %g", t.ZScoreMultiplier)
	}
	if t.HighUsageKWh <= 0 {
		return fmt.Errorf("high_usage_kwh must be positive, got %g", t.HighUsageKWh)
	}
	if t.InactiveHours <= 0 {
		return fmt.Errorf("inactive_hours must be positive, got %g", t.InactiveHours)
	}
	if t.DropRatio <= 0 || t.DropRatio >= 1 {
		return fmt.Errorf("drop_ratio must be in (0, 1), got %g", t.DropRatio)
	}
	return nil
}

// ThresholdsForDevice returns the effective thresholds for a device.
func (c Config) ThresholdsForDevice(device string) Thresholds {
	if c.Devices != nil {
		if override, ok := c.Devices[device]; ok {
			return mergeThresholds(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeThresholds(base, override Thresholds) Thresholds {
	if override.ZScoreMultiplier != 0 {
		base.ZScoreMultiplier = override.ZScoreMultiplier
	}
	if override.HighUsageKWh != 0 {
		base.HighUsageKWh = override.HighUsageKWh
	}
	if override.InactiveHours != 0 {
		base.InactiveHours = override.InactiveHours
	}
	if override.DropRatio != 0 {
		base.DropRatio = override.DropRatio
	}
	if override.MinHistoricalAvg != 0 {
		base.MinHistoricalAvg = override.MinHistoricalAvg
	}
	return base
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
