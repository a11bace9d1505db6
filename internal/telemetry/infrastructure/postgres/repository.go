package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"energy-insight/internal/telemetry/domain"
)

const defaultReadingsTable = "energy_readings"

// ReadingRepository is a Postgres implementation for consumption readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertReadings upserts consumption readings keyed by (device, timestamp).
func (r *ReadingRepository) InsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_name,
	consumption,
	ts,
	source
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (device_name, ts)
DO UPDATE SET
	consumption = EXCLUDED.consumption,
	source = EXCLUDED.source,
	updated_at = NOW()`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			reading.DeviceName,
			reading.Consumption,
			reading.Timestamp,
			string(reading.Source),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
