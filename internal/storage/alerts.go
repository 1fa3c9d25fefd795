package storage

import (
	"context"
	"fmt"
	"time"

	"almejal/eldorado/internal/models"
)

// InsertAlert records a notification row. Insert only, with a server
// generated id, so any instance may write concurrently.
func (s *Store) InsertAlert(ctx context.Context, a *models.Alert) error {
	const query = `
		INSERT INTO alerts (instance_type, droplet, exchange_name, timestamp, message)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING alert_id`
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, query,
		string(a.InstanceType), a.Droplet, a.ExchangeName, ts, a.Message).
		Scan(&a.AlertID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// SelectAlerts returns alerts newer than since, newest first.
func (s *Store) SelectAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	const query = `
		SELECT alert_id, instance_type, droplet, exchange_name, timestamp, message
		FROM alerts
		WHERE timestamp > $1
		ORDER BY timestamp DESC`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("select alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var (
			a            models.Alert
			instanceType string
		)
		if err := rows.Scan(&a.AlertID, &instanceType, &a.Droplet, &a.ExchangeName, &a.Timestamp, &a.Message); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.InstanceType = models.InstanceType(instanceType)
		a.Timestamp = a.Timestamp.UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// PruneAlerts deletes alerts older than before.
func (s *Store) PruneAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
