// Package postgres stores detected anomalies in Postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"energy-insight/internal/analytics/anomaly"
)

const defaultAnomaliesTable = "anomalies"

// AnomalyRepository is a Postgres implementation of anomaly storage.
type AnomalyRepository struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// RepositoryOption configures the repository.
type RepositoryOption func(*AnomalyRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *AnomalyRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithNowFunc overrides the time source used for recency cutoffs.
func WithNowFunc(now func() time.Time) RepositoryOption {
	return func(repo *AnomalyRepository) {
		if now != nil {
			repo.now = now
		}
	}
}

// NewAnomalyRepository constructs a repository with default table name.
func NewAnomalyRepository(db *sql.DB, opts ...RepositoryOption) *AnomalyRepository {
	repo := &AnomalyRepository{db: db, table: defaultAnomaliesTable, now: time.Now}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertAnomalies stores a batch of detected anomalies.
func (r *AnomalyRepository) InsertAnomalies(ctx context.Context, anomalies []anomaly.Anomaly) error {
	if r == nil || r.db == nil {
		return errors.New("anomaly repo: nil db")
	}
	if len(anomalies) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_name,
	anomaly_type,
	severity,
	message,
	detected_at,
	evidence
) VALUES (
	$1, $2, $3, $4, $5, $6
)`, r.table)

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

	for _, item := range anomalies {
		if err := item.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		evidence, err := json.Marshal(item.Evidence)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			item.DeviceName,
			string(item.Type),
			string(item.Severity),
			item.Message,
			item.Timestamp,
			evidence,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// RecentAnomalies returns anomalies detected within the trailing
// window, newest first.
func (r *AnomalyRepository) RecentAnomalies(ctx context.Context, hours int) ([]anomaly.Anomaly, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("anomaly repo: nil db")
	}
	if hours <= 0 {
		hours = 24
	}
	cutoff := r.now().Add(-time.Duration(hours) * time.Hour)

	query := fmt.Sprintf(`
SELECT device_name, anomaly_type, severity, message, detected_at, evidence
FROM %s
WHERE detected_at >= $1
ORDER BY detected_at DESC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []anomaly.Anomaly
	for rows.Next() {
		var item anomaly.Anomaly
		var anomalyType, severity string
		var evidence []byte
		if err := rows.Scan(
			&item.DeviceName,
			&anomalyType,
			&severity,
			&item.Message,
			&item.Timestamp,
			&evidence,
		); err != nil {
			return nil, err
		}
		item.Type = anomaly.Type(anomalyType)
		item.Severity = anomaly.Severity(severity)
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &item.Evidence); err != nil {
				return nil, err
			}
		}
		anomalies = append(anomalies, item)
	}
	return anomalies, rows.Err()
}
