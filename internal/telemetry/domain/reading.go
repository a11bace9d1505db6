package telemetry

import (
	"context"
	"errors"
	"time"
)

// Source identifies where a reading came from.
type Source string

const (
	SourceIoT         Source = "iot"
	SourceManual      Source = "manual"
	SourceThingsBoard Source = "thingsboard"
)

// Valid returns true when the source is supported.
func (s Source) Valid() bool {
	switch s {
	case SourceIoT, SourceManual, SourceThingsBoard:
		return true
	default:
		return false
	}
}

// Reading is one consumption observation for a device. Readings are
// immutable once stored; analytics only reads them.
type Reading struct {
	DeviceName  string
	Consumption float64
	Timestamp   time.Time
	Source      Source
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.DeviceName == "" {
		return errors.New("telemetry: empty device name")
	}
	if r.Consumption < 0 {
		return errors.New("telemetry: negative consumption")
	}
	if r.Timestamp.IsZero() {
		return errors.New("telemetry: zero timestamp")
	}
	if !r.Source.Valid() {
		return errors.New("telemetry: invalid source")
	}
	return nil
}

// ReadingStore persists readings.
type ReadingStore interface {
	InsertReadings(ctx context.Context, readings []Reading) error
}

// ReadingQuery loads readings for analytics.
type ReadingQuery interface {
	QueryRange(ctx context.Context, start, end time.Time) ([]Reading, error)
	QueryRecent(ctx context.Context, hours int) ([]Reading, error)
}
