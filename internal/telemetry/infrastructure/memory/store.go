package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"energy-insight/internal/telemetry/domain"
)

// Store is an in-memory reading store, safe for concurrent use.
// It backs tests and local development runs.
type Store struct {
	mu       sync.Mutex
	readings []telemetry.Reading
	clock    func() time.Time
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithNowFunc overrides the time source used for recency windows.
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...StoreOption) *Store {
	store := &Store{clock: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// InsertReadings appends readings, replacing entries with the same
// (device, timestamp) key.
func (s *Store) InsertReadings(_ context.Context, readings []telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reading := range readings {
		replaced := false
		for i, existing := range s.readings {
			if existing.DeviceName == reading.DeviceName && existing.Timestamp.Equal(reading.Timestamp) {
				s.readings[i] = reading
				replaced = true
				break
			}
		}
		if !replaced {
			s.readings = append(s.readings, reading)
		}
	}
	return nil
}

// QueryRange returns readings with timestamps in [start, end), ascending.
func (s *Store) QueryRange(_ context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []telemetry.Reading
	for _, reading := range s.readings {
		if reading.Timestamp.Before(start) || !reading.Timestamp.Before(end) {
			continue
		}
		result = append(result, reading)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// QueryRecent returns readings in the trailing window, most recent first.
func (s *Store) QueryRecent(_ context.Context, hours int) ([]telemetry.Reading, error) {
	cutoff := s.clock().Add(-time.Duration(hours) * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []telemetry.Reading
	for _, reading := range s.readings {
		if reading.Timestamp.Before(cutoff) {
			continue
		}
		result = append(result, reading)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	return result, nil
}

// Len reports the number of stored readings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}
