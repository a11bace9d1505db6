package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"energy-insight/internal/telemetry/domain"
)

// ReadingQuery is a Postgres query implementation for analytics reads.
type ReadingQuery struct {
	db    *sql.DB
	table string
	clock func() time.Time
}

// NewReadingQuery constructs a query with default table name.
func NewReadingQuery(db *sql.DB, opts ...QueryOption) *ReadingQuery {
	query := &ReadingQuery{db: db, table: defaultReadingsTable, clock: time.Now}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the reading query.
type QueryOption func(*ReadingQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *ReadingQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// WithNowFunc overrides the time source used for recency windows.
func WithNowFunc(now func() time.Time) QueryOption {
	return func(query *ReadingQuery) {
		if query != nil && now != nil {
			query.clock = now
		}
	}
}

// QueryRange returns readings with timestamps in [start, end).
func (q *ReadingQuery) QueryRange(ctx context.Context, start, end time.Time) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if start.IsZero() || end.IsZero() {
		return nil, errors.New("reading query: invalid arguments")
	}

	query := fmt.Sprintf(`
SELECT device_name, consumption, ts, source
FROM %s
WHERE ts >= $1
	AND ts < $2
ORDER BY ts ASC`, q.table)

	return q.scanReadings(ctx, query, start, end)
}

// QueryRecent returns readings from the trailing window of the given hours,
// most recent first.
func (q *ReadingQuery) QueryRecent(ctx context.Context, hours int) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("reading query: nil db")
	}
	if hours <= 0 {
		return nil, errors.New("reading query: hours must be positive")
	}

	cutoff := q.clock().Add(-time.Duration(hours) * time.Hour)
	query := fmt.Sprintf(`
SELECT device_name, consumption, ts, source
FROM %s
WHERE ts >= $1
ORDER BY ts DESC`, q.table)

	return q.scanReadings(ctx, query, cutoff)
}

func (q *ReadingQuery) scanReadings(ctx context.Context, query string, args ...any) ([]telemetry.Reading, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []telemetry.Reading
	for rows.Next() {
		var reading telemetry.Reading
		var consumption sql.NullFloat64
		var source string
		if err := rows.Scan(&reading.DeviceName, &consumption, &reading.Timestamp, &source); err != nil {
			return nil, err
		}
		if !consumption.Valid {
			continue
		}
		reading.Consumption = consumption.Float64
		reading.Source = telemetry.Source(source)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}
